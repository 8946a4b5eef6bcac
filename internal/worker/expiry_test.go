package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExpirer struct {
	mu    sync.Mutex
	calls []time.Time
	n     int
	err   error
}

func (r *recordingExpirer) ExpireStale(_ context.Context, t time.Time, _ int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, t)
	return r.n, r.err
}

func (r *recordingExpirer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type countingPruner struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPruner) Prune(time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return 1
}

func TestSweep_UsesPendingTTLForOrders(t *testing.T) {
	orders := &recordingExpirer{n: 2}
	payments := &recordingExpirer{err: errors.New("db down")}
	pruner := &countingPruner{}
	w := NewExpiryWorker(orders, payments, pruner, 30*time.Minute, time.Minute, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	w.Sweep(context.Background())

	require.Len(t, orders.calls, 1)
	assert.Equal(t, fixed.Add(-30*time.Minute), orders.calls[0])
	require.Len(t, payments.calls, 1)
	assert.Equal(t, fixed, payments.calls[0])
	assert.Equal(t, 1, pruner.calls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	orders := &recordingExpirer{}
	w := NewExpiryWorker(orders, nil, nil, time.Minute, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return orders.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
