package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(events), n)
			}
			events = append(events, e)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	assert.Equal(t, 2, bus.SubscriberCount())

	event := New(TypeStateChanged, "study-1", map[string]interface{}{"to": "QC_REVIEW"})
	bus.Publish(event)

	got1 := collect(t, ch1, 1)
	got2 := collect(t, ch2, 1)
	assert.Equal(t, event.ID, got1[0].ID)
	assert.Equal(t, event.ID, got2[0].ID)
}

func TestBus_OrderingPreservedPerSubscriber(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	const n = 100
	for i := 0; i < n; i++ {
		bus.Publish(New(TypeExposureRecorded, "study-1", map[string]interface{}{"i": i}))
	}

	events := collect(t, ch, n)
	for i, e := range events {
		assert.Equal(t, i, e.Payload["i"])
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	// Nobody reads this channel; Publish must still return promptly.
	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ {
			bus.Publish(New(TypeStateChanged, "study-1", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}
}

func TestBus_CancelClosesChannel(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after cancel must not panic or deliver.
	bus.Publish(New(TypeStateChanged, "study-1", nil))
}

func TestBus_CloseClosesAllChannels(t *testing.T) {
	bus := NewBus(zap.NewNop())

	ch, _ := bus.Subscribe()
	bus.Close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	// Subscribe after close yields an already-closed channel.
	ch2, cancel2 := bus.Subscribe()
	cancel2()
	_, ok := <-ch2
	assert.False(t, ok)
}

func TestEvent_New(t *testing.T) {
	e := New(TypeGuardDenied, "study-1", map[string]interface{}{"guard": "DoseLimitExceeded"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, TypeGuardDenied, e.Type)
	assert.Equal(t, "study-1", e.StudyID)
	assert.False(t, e.Timestamp.IsZero())

	e2 := New(TypeGuardDenied, "study-1", nil)
	assert.NotEqual(t, e.ID, e2.ID)
}
