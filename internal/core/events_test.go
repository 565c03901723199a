package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusSubscribeAndCancel(t *testing.T) {
	bus := NewBus[StatusChange]("status")
	sub := bus.Subscribe("test", 4)
	require.Equal(t, 1, bus.Len())

	bus.Publish(StatusChange{Old: StatusOff, New: StatusTransitioning})
	bus.Publish(StatusChange{Old: StatusTransitioning, New: StatusOn})

	assert.Equal(t, StatusTransitioning, (<-sub.Events()).New)
	assert.Equal(t, StatusOn, (<-sub.Events()).New)

	sub.Cancel()
	assert.True(t, sub.Done())
	bus.Publish(StatusChange{Old: StatusOn, New: StatusOff})
	assert.Empty(t, sub.Events())
	assert.Equal(t, 0, bus.Len())
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus[int]("ints")
	sub := bus.Subscribe("slow", 1)

	bus.Publish(1)
	bus.Publish(2) // dropped, must not block

	assert.Equal(t, 1, <-sub.Events())
	assert.Empty(t, sub.Events())
}

func TestBusHandlers(t *testing.T) {
	bus := NewBus[DomainFilterChanged]("filter")

	var got []string
	cancel := bus.Handle("collector", func(e DomainFilterChanged) {
		if e.Domain == nil {
			got = append(got, "<nil>")
			return
		}
		got = append(got, *e.Domain)
	})

	d := "evil.example"
	bus.Publish(DomainFilterChanged{Domain: &d})
	bus.Publish(DomainFilterChanged{})
	cancel()
	bus.Publish(DomainFilterChanged{Domain: &d})

	assert.Equal(t, []string{"evil.example", "<nil>"}, got)
	assert.Equal(t, 0, bus.Len())
}
