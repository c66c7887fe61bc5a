// Package configentry is the lifecycle coordinator for integration
// instances: each config entry walks a fixed state machine
// (NotLoaded → SetupInProgress → {Loaded, SetupError, SetupRetry,
// MigrationError} → ... → UnloadInProgress → {NotLoaded, FailedUnload})
// under a per-entry mutex that serializes setup/unload/reload on that
// entry while leaving unrelated entries free to proceed concurrently.
//
// A SetupRetry result schedules a one-shot backoff retry
// (2^min(tries,4)*5s, capped at 80s, plus jitter); Manager also runs a
// periodic cron sweep as a fallback in case a pending retry's one-shot
// timer goes missing within the running process (retry state is
// runtime-only and does not survive a restart).
package configentry
