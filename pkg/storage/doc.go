/*
Package storage implements versioned JSON-file persistence, one file per
key, following the on-disk layout of Home Assistant's ".storage/"
directory.

Every stored value is wrapped in an envelope carrying a major version (a
breaking-change marker), a minor version (in-place migrations within a
major version), the storage key, and the serialized data:

	{
	  "version": 1,
	  "minor_version": 6,
	  "key": "core.area_registry",
	  "data": { ... }
	}

Save writes to a temp file and renames it into place, so a crash mid-write
never leaves a half-written file at the real path; ListKeys skips any
leftover ".tmp" file for the same reason. Load returns a version-mismatch
error when the on-disk major version differs from what the caller expects,
and logs (without failing) when the minor version is behind.

Every registry in pkg/registry, plus pkg/configentry, uses a *Storage
through its own Load and Save methods; nothing is written to disk until
the owner calls Save.
*/
package storage
