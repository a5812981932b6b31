package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshvault/meshvault/internal/auth"
	"github.com/meshvault/meshvault/internal/config"
	"github.com/meshvault/meshvault/internal/notify"
	"github.com/meshvault/meshvault/internal/storage"
	"github.com/meshvault/meshvault/internal/store"
	"github.com/meshvault/meshvault/pkg/models"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	eng, err := storage.New(config.StorageConfig{
		Backend:       "sqlite",
		Path:          filepath.Join(t.TempDir(), "meshvault.db"),
		BusyTimeoutMS: 5000,
		MinConns:      1,
		MaxConns:      4,
		CacheKB:       2048,
	})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	require.NoError(t, eng.Initialize(context.Background()))
	return store.New(eng, config.LimitsConfig{
		MaxMessageLength: 1024,
		MaxMemoryEntries: 100,
		MaxMetadataBytes: 2048,
	})
}

func TestCycleSweepsEveryResourceClass(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	// Expired memory entry.
	past := time.Now().UTC().Add(-time.Minute)
	_, err := st.SetMemory(ctx, store.SetMemoryInput{
		AgentID: "agent-a", Key: "stale", Value: "v", ExpiresAt: &past,
	})
	require.NoError(t, err)

	// Audit event older than the retention window.
	_, err = st.AppendAudit(ctx, models.AuditEvent{EventType: "old_event", AgentID: "agent-a"})
	require.NoError(t, err)

	// Expired token record.
	require.NoError(t, st.SaveToken(ctx, models.TokenRecord{
		TokenID: "dead", AgentID: "agent-a", Payload: []byte{1},
		ExpiresAt: past, CreatedAt: past,
	}))

	registry := notify.NewRegistry()
	registry.Subscribe("agent-a", "*")

	signer := auth.NewSigner([]byte("s"), time.Hour, 0, "", "")
	authority := auth.NewAuthority(signer, mustVault(t), st)

	j, err := NewJanitor(st, authority, registry, config.RetentionConfig{
		AuditDays:        -1, // cutoff in the future sweeps today's events
		SessionDays:      30,
		Interval:         time.Hour,
		SubscriptionIdle: time.Nanosecond,
	})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond) // let the subscription go idle

	stats := j.RunCycle(ctx)
	require.Empty(t, stats.Errors)
	require.EqualValues(t, 1, stats.MemoryPurged)
	require.EqualValues(t, 1, stats.AuditPurged)
	require.EqualValues(t, 1, stats.TokensPurged)
	require.Equal(t, 1, stats.SubscriptionsSwept)

	last, ok := j.LastCycle()
	require.True(t, ok)
	require.EqualValues(t, 1, last.MemoryPurged)
}

func mustVault(t *testing.T) *auth.Vault {
	t.Helper()
	v, err := auth.NewVault(make([]byte, 32))
	require.NoError(t, err)
	return v
}

func TestBadCronScheduleRejected(t *testing.T) {
	_, err := NewJanitor(testStore(t), nil, nil, config.RetentionConfig{
		Schedule: "not a cron line",
		Interval: time.Hour,
	})
	require.Error(t, err)
}

func TestCronScheduleAccepted(t *testing.T) {
	j, err := NewJanitor(testStore(t), nil, nil, config.RetentionConfig{
		Schedule: "*/10 * * * *",
		Interval: time.Hour,
	})
	require.NoError(t, err)
	require.NotNil(t, j.schedule)

	next := j.schedule.Next(time.Date(2026, 1, 1, 0, 3, 0, 0, time.UTC))
	require.Equal(t, 10, next.Minute())
}

func TestStartStopsOnCancel(t *testing.T) {
	j, err := NewJanitor(testStore(t), nil, notify.NewRegistry(), config.RetentionConfig{
		AuditDays:   30,
		SessionDays: 30,
		Interval:    time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("janitor did not stop on cancel")
	}
}
