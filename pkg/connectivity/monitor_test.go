package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"

	"bioai-workspace-be/pkg/scheduler"

	"github.com/stretchr/testify/assert"
)

func TestTransitionsOnly(t *testing.T) {
	m := NewMonitor(true)

	var kinds []EventKind
	unsubscribe := m.Subscribe(func(e Event) { kinds = append(kinds, e.Kind) })

	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(false)
	m.SetOnline(true)
	m.SetVisible(false)
	m.SetVisible(true)

	assert.Equal(t, []EventKind{EventOffline, EventOnline, EventHidden, EventVisible}, kinds)

	unsubscribe()
	m.SetOnline(false)
	assert.Len(t, kinds, 4)
	assert.False(t, m.Online())
}

func TestProberFeedsMonitor(t *testing.T) {
	clock := scheduler.NewVirtualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sched := scheduler.New(clock)
	m := NewMonitor(true)

	var fail bool
	cancel := StartProber(m, sched, 10*time.Second, time.Second, func(ctx context.Context) error {
		if fail {
			return errors.New("connection refused")
		}
		return nil
	})
	defer cancel()

	fail = true
	clock.Advance(10 * time.Second)
	assert.False(t, m.Online())

	fail = false
	clock.Advance(10 * time.Second)
	assert.True(t, m.Online())
}
