package conversation_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/omnivoice-receptionist/conversation"
)

type countingPurger struct {
	calls atomic.Int32
}

func (p *countingPurger) Purge(time.Time) int {
	p.calls.Add(1)
	return 1
}

func TestSweeper_StartStop(t *testing.T) {
	engine, _ := newEngine(t, replies("ok"), conversation.DefaultPolicy())
	sweeper := conversation.NewSweeper(engine, conversation.WithSweepInterval(10*time.Millisecond))

	require.NoError(t, sweeper.Start(context.Background()))
	assert.True(t, sweeper.IsRunning())

	// Starting twice is a no-op.
	require.NoError(t, sweeper.Start(context.Background()))

	sweeper.Stop()
	assert.False(t, sweeper.IsRunning())

	// Stopping twice is a no-op.
	sweeper.Stop()
}

func TestSweeper_SweepOnce(t *testing.T) {
	clk := newClock()
	store := conversation.NewMemoryStore(conversation.WithStoreClock(clk.Now))
	engine, err := conversation.NewEngine(store, replies("ok"), conversation.DefaultPolicy(), "sys", conversation.WithClock(clk.Now))
	require.NoError(t, err)

	purger := &countingPurger{}
	sweeper := conversation.NewSweeper(engine,
		conversation.WithIdleTimeout(time.Minute),
		conversation.WithPurger(purger),
	)

	engine.Greet("CA1", "+1")
	clk.Advance(2 * time.Minute)

	sessions, purged := sweeper.SweepOnce(context.Background())
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 1, purged)
	assert.Equal(t, 0, store.Len())
}

func TestSweeper_TicksPurgers(t *testing.T) {
	engine, _ := newEngine(t, replies("ok"), conversation.DefaultPolicy())
	purger := &countingPurger{}
	sweeper := conversation.NewSweeper(engine,
		conversation.WithSweepInterval(5*time.Millisecond),
		conversation.WithPurger(purger),
	)

	require.NoError(t, sweeper.Start(context.Background()))
	defer sweeper.Stop()

	assert.Eventually(t, func() bool {
		return purger.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}
