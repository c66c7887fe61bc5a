package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	hcore "github.com/cuemby/hassd/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, call Call) (json.RawMessage, error) {
	return call.Data, nil
}

func noopHandler(ctx context.Context, call Call) (json.RawMessage, error) {
	return nil, nil
}

func TestRegisterAndCall(t *testing.T) {
	r := New()
	r.Register("test", "echo", echoHandler, SupportsResponseOptional)

	result, err := r.Call(context.Background(), "test", "echo", json.RawMessage(`{"msg":"hello"}`), hcore.Context{}, true)

	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hello"}`, string(result))
}

func TestCallServiceNotFound(t *testing.T) {
	r := New()

	_, err := r.Call(context.Background(), "nonexistent", "service", nil, hcore.Context{}, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, hcore.ErrNotFound)
}

func TestCallWithoutResponseSupport(t *testing.T) {
	r := New()
	r.Register("light", "turn_on", noopHandler, SupportsResponseNone)

	_, err := r.Call(context.Background(), "light", "turn_on", nil, hcore.Context{}, false)
	require.NoError(t, err)

	_, err = r.Call(context.Background(), "light", "turn_on", nil, hcore.Context{}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, hcore.ErrResponseNotSupported)
}

func TestHasService(t *testing.T) {
	r := New()
	r.Register("light", "turn_on", noopHandler, SupportsResponseNone)

	assert.True(t, r.HasService("light", "turn_on"))
	assert.False(t, r.HasService("light", "turn_off"))
	assert.False(t, r.HasService("switch", "turn_on"))
}

func TestDomainServicesAndDomains(t *testing.T) {
	r := New()
	r.Register("light", "turn_on", noopHandler, SupportsResponseNone)
	r.Register("light", "turn_off", noopHandler, SupportsResponseNone)
	r.Register("switch", "toggle", noopHandler, SupportsResponseNone)

	assert.Len(t, r.DomainServices("light"), 2)
	assert.Len(t, r.DomainServices("switch"), 1)
	assert.Equal(t, []string{"light", "switch"}, r.Domains())
}

func TestUnregister(t *testing.T) {
	r := New()
	r.Register("light", "turn_on", noopHandler, SupportsResponseNone)

	assert.True(t, r.HasService("light", "turn_on"))
	assert.True(t, r.Unregister("light", "turn_on"))
	assert.False(t, r.HasService("light", "turn_on"))
	assert.False(t, r.Unregister("light", "turn_on"))
}

func TestUnregisterDomain(t *testing.T) {
	r := New()
	r.Register("light", "turn_on", noopHandler, SupportsResponseNone)
	r.Register("light", "turn_off", noopHandler, SupportsResponseNone)
	r.Register("switch", "toggle", noopHandler, SupportsResponseNone)

	count := r.UnregisterDomain("light")

	assert.Equal(t, 2, count)
	assert.False(t, r.HasService("light", "turn_on"))
	assert.True(t, r.HasService("switch", "toggle"))
}

func TestCallFailedWraps(t *testing.T) {
	r := New()
	r.Register("test", "fail", func(ctx context.Context, call Call) (json.RawMessage, error) {
		return nil, errors.New("intentional failure")
	}, SupportsResponseNone)

	_, err := r.Call(context.Background(), "test", "fail", nil, hcore.Context{}, false)

	require.Error(t, err)
	assert.ErrorIs(t, err, hcore.ErrCallFailed)
}
