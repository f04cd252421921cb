package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/nfefetch/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueue_FIFO(t *testing.T) {
	q := newQueue()
	for i := 1; i <= 3; i++ {
		require.True(t, q.enqueue(Event{Index: i}, nil))
	}
	for i := 1; i <= 3; i++ {
		e, ok := q.tryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, e.Index)
	}
	_, ok := q.tryDequeue()
	assert.False(t, ok)
}

func TestQueue_ClosedRejectsAndWakes(t *testing.T) {
	q := newQueue()
	q.close()
	q.close()

	assert.False(t, q.enqueue(Event{}, nil))
	assert.True(t, q.drained())

	select {
	case <-q.wait():
	case <-time.After(time.Second):
		t.Fatal("wait channel not closed")
	}
}

func TestBus_DeliversInOrderWithIncreasingSeq(t *testing.T) {
	var got Collector
	bus := NewBus(&got)
	stop := bus.Start(context.Background())

	for i := 1; i <= 100; i++ {
		require.True(t, bus.Publish(Progress("run", i, 100)))
	}
	stop()

	events := got.Events()
	require.Len(t, events, 100)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, i+1, e.Index)
	}
	assert.Equal(t, 100, events[99].Percent)
	assert.False(t, bus.Publish(Status("run", 1, 1, "late")), "closed bus rejects")
}

func TestBus_ConcurrentPublishersKeepSeqOrder(t *testing.T) {
	var got Collector
	bus := NewBus(&got)
	stop := bus.Start(context.Background())

	const publishers, each = 8, 50
	var wg sync.WaitGroup
	wg.Add(publishers)
	for p := 0; p < publishers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				bus.Publish(Status("run", i, each, "x"))
			}
		}()
	}
	wg.Wait()
	stop()

	events := got.Events()
	require.Len(t, events, publishers*each)
	for i := 1; i < len(events); i++ {
		assert.Less(t, events[i-1].Seq, events[i].Seq)
	}
}

func TestBus_FanOut(t *testing.T) {
	var a, b Collector
	bus := NewBus(&a, &b)
	stop := bus.Start(context.Background())
	bus.Publish(Done("run", "completed", "ok"))
	stop()

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestBus_RunStopsOnContextCancel(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEventConstructors(t *testing.T) {
	key := model.DocumentKey("35230612345678000190550010000012341000012345")

	assert.Equal(t, 33, Progress("r", 1, 3).Percent)
	assert.Equal(t, 0, Progress("r", 0, 0).Percent)

	nf := NotFound("r", 2, key)
	assert.Equal(t, KindNotFound, nf.Kind)
	assert.Equal(t, key.String(), nf.Key)

	cs := CaptureStep(model.StepCancelledAck)
	assert.Equal(t, "STEP 7': Click OK on the CANCELLED document popup", cs.Text)

	pr := PositionRecorded(model.StepContinue, model.Position{X: 3, Y: 4})
	require.NotNil(t, pr.Position)
	assert.Equal(t, "Step 3 recorded at (3, 4)", pr.Text)
}
