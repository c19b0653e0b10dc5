package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Centace/centace/pkg/logger"
)

type hookRecorder struct {
	mu       sync.Mutex
	signOuts []string
	expired  []string
	warnings []string
}

func newTestRegistry(clock *fakeClock, rec *hookRecorder, signOutErr error) *Registry {
	return NewRegistry(RegistryConfig{
		Timeout:     10 * time.Second,
		WarningLead: 3 * time.Second,
		Clock:       clock,
		Hooks: Hooks{
			SignOut: func(ctx context.Context, userID, token string) error {
				rec.mu.Lock()
				defer rec.mu.Unlock()
				rec.signOuts = append(rec.signOuts, userID+":"+token)
				return signOutErr
			},
			Expired: func(ctx context.Context, userID string) {
				rec.mu.Lock()
				defer rec.mu.Unlock()
				rec.expired = append(rec.expired, userID)
			},
			Warning: func(userID string, remaining time.Duration) {
				rec.mu.Lock()
				defer rec.mu.Unlock()
				rec.warnings = append(rec.warnings, userID)
			},
		},
	}, logger.NewNop())
}

func TestRegistryCreatesSessionOnActivity(t *testing.T) {
	clock := newFakeClock()
	rec := &hookRecorder{}
	reg := newTestRegistry(clock, rec, nil)

	_, err := reg.Snapshot("u1")
	assert.ErrorIs(t, err, ErrNoSession)

	snap, accepted, err := reg.Activity("u1", "tok-1", "click")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, Idle, snap.State)
	assert.Equal(t, 1, reg.Len())

	_, accepted, err = reg.Activity("u1", "tok-1", "focus")
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestRegistryExpirySignsOutWithLatestToken(t *testing.T) {
	clock := newFakeClock()
	rec := &hookRecorder{}
	reg := newTestRegistry(clock, rec, nil)

	_, _, err := reg.Activity("u1", "tok-1", "click")
	require.NoError(t, err)
	_, _, err = reg.Activity("u2", "tok-2", "click")
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	_, _, err = reg.Activity("u2", "tok-2b", "keydown")
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	assert.Equal(t, []string{"u1:tok-1"}, rec.signOuts)
	assert.Equal(t, []string{"u1"}, rec.expired)
	assert.Equal(t, []string{"u1"}, rec.warnings)

	snap, err := reg.Snapshot("u1")
	require.NoError(t, err)
	assert.Equal(t, Expired, snap.State)

	clock.Advance(5 * time.Second)
	assert.Equal(t, []string{"u1:tok-1", "u2:tok-2b"}, rec.signOuts)
}

func TestRegistryExpiredSessionNeedsNewToken(t *testing.T) {
	clock := newFakeClock()
	rec := &hookRecorder{}
	reg := newTestRegistry(clock, rec, nil)

	_, _, err := reg.Activity("u1", "tok-1", "click")
	require.NoError(t, err)
	clock.Advance(10 * time.Second)

	_, _, err = reg.Activity("u1", "tok-1", "click")
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = reg.Extend("u1", "tok-1")
	assert.ErrorIs(t, err, ErrSessionExpired)

	snap, accepted, err := reg.Activity("u1", "tok-new", "click")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, Idle, snap.State)
}

func TestRegistrySignOutFailureStillExpires(t *testing.T) {
	clock := newFakeClock()
	rec := &hookRecorder{}
	reg := newTestRegistry(clock, rec, errors.New("supabase down"))

	_, _, err := reg.Activity("u1", "tok-1", "click")
	require.NoError(t, err)
	clock.Advance(time.Minute)

	assert.Len(t, rec.signOuts, 1)
	assert.Equal(t, []string{"u1"}, rec.expired)
}

func TestRegistryExtendAndEnd(t *testing.T) {
	clock := newFakeClock()
	rec := &hookRecorder{}
	reg := newTestRegistry(clock, rec, nil)

	_, err := reg.Extend("u1", "tok")
	assert.ErrorIs(t, err, ErrNoSession)

	_, _, err = reg.Activity("u1", "tok", "click")
	require.NoError(t, err)
	clock.Advance(8 * time.Second)

	snap, err := reg.Extend("u1", "tok")
	require.NoError(t, err)
	assert.False(t, snap.WarningVisible)
	assert.Equal(t, 10*time.Second, snap.Remaining)

	assert.True(t, reg.End("u1"))
	assert.False(t, reg.End("u1"))
	clock.Advance(time.Minute)
	assert.Empty(t, rec.signOuts)
}

func TestRegistryStopDisarmsTimers(t *testing.T) {
	clock := newFakeClock()
	rec := &hookRecorder{}
	reg := newTestRegistry(clock, rec, nil)
	require.NoError(t, reg.Start(context.Background()))

	_, _, err := reg.Activity("u1", "tok", "click")
	require.NoError(t, err)

	require.NoError(t, reg.Stop(context.Background()))
	clock.Advance(time.Minute)

	assert.Empty(t, rec.signOuts)
	assert.Equal(t, 0, reg.Len())

	_, _, err = reg.Activity("u1", "tok", "click")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRegistryCheckRejectsExpiredToken(t *testing.T) {
	clock := newFakeClock()
	rec := &hookRecorder{}
	reg := newTestRegistry(clock, rec, nil)

	assert.NoError(t, reg.Check("nobody", "tok"))

	_, _, err := reg.Activity("u1", "tok-1", "click")
	require.NoError(t, err)
	assert.NoError(t, reg.Check("u1", "tok-1"))

	clock.Advance(10 * time.Second)
	assert.ErrorIs(t, reg.Check("u1", "tok-1"), ErrSessionExpired)
	assert.ErrorIs(t, reg.Check("u1", ""), ErrSessionExpired)
	assert.NoError(t, reg.Check("u1", "tok-new"))
}

func TestRegistryForgetsExpiredAfterRetention(t *testing.T) {
	clock := newFakeClock()
	rec := &hookRecorder{}
	reg := newTestRegistry(clock, rec, nil)

	_, _, err := reg.Activity("u1", "tok-1", "click")
	require.NoError(t, err)
	_, _, err = reg.Activity("u2", "tok-2", "click")
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	assert.Equal(t, 2, reg.Len())

	// u2 signs in again, which postpones its purge past u1's.
	_, _, err = reg.Activity("u2", "tok-2b", "click")
	require.NoError(t, err)

	clock.Advance(DefaultExpiredRetention)
	assert.Equal(t, 1, reg.Len())
	_, err = reg.Snapshot("u1")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, reg.Check("u2", "tok-2b"), ErrSessionExpired)

	clock.Advance(10 * time.Second)
	assert.Equal(t, 0, reg.Len())
}
