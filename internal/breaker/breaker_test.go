package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelguard/modelguard/internal/alerting"
	"github.com/modelguard/modelguard/internal/store"
	"github.com/modelguard/modelguard/pkg/config"
)

var testCfg = config.BreakerConfig{
	ErrorsThreshold: 3,
	Window:          time.Minute,
	Cooldown:        5 * time.Minute,
}

func newTestBreaker(t *testing.T, alerts *alerting.Dispatcher) *Breaker {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	cfg := testCfg
	return NewBreaker(s, &cfg, alerts)
}

func TestOpensAtThreshold(t *testing.T) {
	b := newTestBreaker(t, nil)
	ctx := context.Background()
	key := Key{AgentType: "researcher", ModelID: "gpt-4o"}

	for i := 0; i < testCfg.ErrorsThreshold-1; i++ {
		open, err := b.RecordFailure(ctx, key)
		require.NoError(t, err)
		assert.False(t, open, "failure %d must not open the breaker", i+1)
	}

	open, err := b.RecordFailure(ctx, key)
	require.NoError(t, err)
	assert.True(t, open, "threshold failure opens the breaker")

	isOpen, err := b.IsOpen(ctx, key)
	require.NoError(t, err)
	assert.True(t, isOpen)
}

func TestSuccessResetsFailureWindow(t *testing.T) {
	b := newTestBreaker(t, nil)
	ctx := context.Background()
	key := Key{AgentType: "researcher", ModelID: "gpt-4o"}

	for i := 0; i < testCfg.ErrorsThreshold-1; i++ {
		_, err := b.RecordFailure(ctx, key)
		require.NoError(t, err)
	}

	require.NoError(t, b.RecordSuccess(ctx, key, true))

	count, err := b.FailureCount(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, count)

	// A fresh threshold is needed after the reset
	for i := 0; i < testCfg.ErrorsThreshold-1; i++ {
		open, err := b.RecordFailure(ctx, key)
		require.NoError(t, err)
		assert.False(t, open)
	}
}

func TestSuccessWithoutResetPreservesFailures(t *testing.T) {
	b := newTestBreaker(t, nil)
	ctx := context.Background()
	key := Key{AgentType: "researcher", ModelID: "gpt-4o"}

	_, err := b.RecordFailure(ctx, key)
	require.NoError(t, err)

	require.NoError(t, b.RecordSuccess(ctx, key, false))

	count, err := b.FailureCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestKeyIsolation(t *testing.T) {
	b := newTestBreaker(t, nil)
	ctx := context.Background()

	primary := Key{AgentType: "researcher", ModelID: "gpt-4o"}
	otherModel := Key{AgentType: "researcher", ModelID: "claude-sonnet-4"}
	otherTenant := Key{AgentType: "researcher", ModelID: "gpt-4o", TenantID: "acme"}

	for i := 0; i < testCfg.ErrorsThreshold; i++ {
		_, err := b.RecordFailure(ctx, primary)
		require.NoError(t, err)
	}

	open, err := b.IsOpen(ctx, primary)
	require.NoError(t, err)
	assert.True(t, open)

	for _, key := range []Key{otherModel, otherTenant} {
		open, err := b.IsOpen(ctx, key)
		require.NoError(t, err)
		assert.False(t, open, "state must not bleed into %+v", key)
	}
}

func TestRecoversAfterCooldown(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(t, nil).WithClock(func() time.Time { return now })
	ctx := context.Background()
	key := Key{AgentType: "researcher", ModelID: "gpt-4o"}

	for i := 0; i < testCfg.ErrorsThreshold; i++ {
		_, err := b.RecordFailure(ctx, key)
		require.NoError(t, err)
	}

	open, err := b.IsOpen(ctx, key)
	require.NoError(t, err)
	assert.True(t, open)

	now = now.Add(testCfg.Cooldown + time.Second)

	open, err = b.IsOpen(ctx, key)
	require.NoError(t, err)
	assert.False(t, open, "recovery is purely time-based")
}

func TestFirstFailureAfterCooldownDoesNotReopen(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(t, nil).WithClock(func() time.Time { return now })
	ctx := context.Background()
	key := Key{AgentType: "researcher", ModelID: "gpt-4o"}

	for i := 0; i < testCfg.ErrorsThreshold; i++ {
		_, err := b.RecordFailure(ctx, key)
		require.NoError(t, err)
	}

	now = now.Add(testCfg.Cooldown + time.Second)

	open, err := b.RecordFailure(ctx, key)
	require.NoError(t, err)
	assert.False(t, open, "the trip consumed the previous failures")
}

func TestWindowPrunesOldFailures(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(t, nil).WithClock(func() time.Time { return now })
	ctx := context.Background()
	key := Key{AgentType: "researcher", ModelID: "gpt-4o"}

	for i := 0; i < testCfg.ErrorsThreshold-1; i++ {
		_, err := b.RecordFailure(ctx, key)
		require.NoError(t, err)
	}

	now = now.Add(testCfg.Window + time.Second)

	open, err := b.RecordFailure(ctx, key)
	require.NoError(t, err)
	assert.False(t, open, "failures outside the window no longer count")

	count, err := b.FailureCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReset(t *testing.T) {
	b := newTestBreaker(t, nil)
	ctx := context.Background()
	key := Key{AgentType: "researcher", ModelID: "gpt-4o"}

	for i := 0; i < testCfg.ErrorsThreshold; i++ {
		_, err := b.RecordFailure(ctx, key)
		require.NoError(t, err)
	}

	require.NoError(t, b.Reset(ctx, key))

	open, err := b.IsOpen(ctx, key)
	require.NoError(t, err)
	assert.False(t, open)

	count, err := b.FailureCount(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOpenEmitsAlert(t *testing.T) {
	var events []alerting.Event
	dispatcher := alerting.NewDispatcher(nil)
	dispatcher.AddSink(alerting.NewFuncSink("capture", func(_ context.Context, e alerting.Event) error {
		events = append(events, e)
		return nil
	}))

	b := newTestBreaker(t, dispatcher)
	ctx := context.Background()
	key := Key{AgentType: "researcher", ModelID: "gpt-4o", TenantID: "acme"}

	for i := 0; i < testCfg.ErrorsThreshold; i++ {
		_, err := b.RecordFailure(ctx, key)
		require.NoError(t, err)
	}

	require.Len(t, events, 1, "only the open transition alerts")
	assert.Equal(t, alerting.EventBreakerOpen, events[0].Kind)
	assert.Equal(t, "acme", events[0].TenantID)
	assert.Equal(t, "gpt-4o", events[0].Payload["model_id"])
}

func TestStatusReport(t *testing.T) {
	b := newTestBreaker(t, nil)
	ctx := context.Background()

	openKey := Key{AgentType: "researcher", ModelID: "gpt-4o", TenantID: "acme"}
	for i := 0; i < testCfg.ErrorsThreshold; i++ {
		_, err := b.RecordFailure(ctx, openKey)
		require.NoError(t, err)
	}

	closedKey := Key{AgentType: "summarizer", ModelID: "claude-sonnet-4"}
	_, err := b.RecordFailure(ctx, closedKey)
	require.NoError(t, err)

	states, err := b.StatusReport(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)

	byModel := make(map[string]State, len(states))
	for _, s := range states {
		byModel[s.ModelID] = s
	}

	open := byModel["gpt-4o"]
	assert.True(t, open.Open)
	assert.Equal(t, "acme", open.TenantID)
	require.NotNil(t, open.OpenUntil)

	closed := byModel["claude-sonnet-4"]
	assert.False(t, closed.Open)
	assert.Equal(t, 1, closed.FailureCount)
	assert.Empty(t, closed.TenantID)
}
