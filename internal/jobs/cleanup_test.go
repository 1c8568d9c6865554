package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLedger struct {
	calls atomic.Int32
	err   error
}

func (m *mockLedger) DeleteExpired(ctx context.Context) (int64, error) {
	m.calls.Add(1)
	return 3, m.err
}

type mockWaiting struct {
	mu      sync.Mutex
	servers []string
}

func (m *mockWaiting) DeleteByServer(ctx context.Context, serverName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = append(m.servers, serverName)
	return 2, nil
}

func TestCleanupJob(t *testing.T) {
	t.Run("creates job with correct interval", func(t *testing.T) {
		job := NewCleanupJob(nil, nil, "eu-1", 5*time.Minute)

		assert.NotNil(t, job)
		assert.Equal(t, 5*time.Minute, job.interval)
	})

	t.Run("starts and stops without collaborators", func(t *testing.T) {
		job := NewCleanupJob(nil, nil, "eu-1", 10*time.Millisecond)

		job.Start()
		time.Sleep(30 * time.Millisecond)
		job.Stop()
	})

	t.Run("purges this server's waiting rows before returning", func(t *testing.T) {
		waiting := &mockWaiting{}
		job := NewCleanupJob(&mockLedger{}, waiting, "eu-1", time.Hour)

		job.Start()
		defer job.Stop()

		waiting.mu.Lock()
		defer waiting.mu.Unlock()
		assert.Equal(t, []string{"eu-1"}, waiting.servers)
	})

	t.Run("runs ledger cleanup on start and on every tick", func(t *testing.T) {
		ledger := &mockLedger{}
		job := NewCleanupJob(ledger, &mockWaiting{}, "eu-1", 10*time.Millisecond)

		job.Start()
		defer job.Stop()

		require.Eventually(t, func() bool { return ledger.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	})

	t.Run("keeps running after a failure", func(t *testing.T) {
		ledger := &mockLedger{err: errors.New("connection reset")}
		job := NewCleanupJob(ledger, nil, "eu-1", 10*time.Millisecond)

		job.Start()
		defer job.Stop()

		require.Eventually(t, func() bool { return ledger.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	})
}
