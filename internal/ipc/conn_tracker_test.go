package ipc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
)

func TestConnTrackerIdleCallback(t *testing.T) {
	var idle atomic.Int32
	ct := NewConnTracker(20*time.Millisecond, func() { idle.Add(1) })
	unary := ct.UnaryInterceptor()

	_, err := unary(context.Background(), nil, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		assert.Equal(t, int64(1), ct.ActiveCount())
		return nil, nil
	})
	assert.NoError(t, err)
	assert.Zero(t, ct.ActiveCount())

	assert.Eventually(t, func() bool { return idle.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConnTrackerReconnectCancelsGrace(t *testing.T) {
	var idle atomic.Int32
	ct := NewConnTracker(50*time.Millisecond, func() { idle.Add(1) })

	ct.inc()
	ct.dec()
	ct.inc() // client back before grace expires
	assert.Never(t, func() bool { return idle.Load() > 0 }, 120*time.Millisecond, 10*time.Millisecond)
	ct.dec()
	ct.CancelGrace()
	assert.Never(t, func() bool { return idle.Load() > 0 }, 120*time.Millisecond, 10*time.Millisecond)
}

func TestConnTrackerZeroGraceDisabled(t *testing.T) {
	called := false
	ct := NewConnTracker(0, func() { called = true })
	ct.inc()
	ct.dec()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, called)
}
