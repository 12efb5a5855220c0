package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmd13/subagent-tracking/internal/schema"
)

func testEvent(sessionID string, t schema.EventType) schema.Event {
	return schema.Event{
		EventID:   "evt_" + sessionID + "_000001",
		SessionID: sessionID,
		EventType: t,
		Timestamp: time.Now().UTC(),
	}
}

func TestBus_DeliversToMatchingSubscriber(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var got atomic.Int32
	done := make(chan struct{}, 1)
	b.Subscribe(string(schema.EventAgentInvoked), func(e schema.Event) error {
		got.Add(1)
		done <- struct{}{}
		return nil
	})

	b.Publish(testEvent("s1", schema.EventAgentInvoked))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	assert.Equal(t, int32(1), got.Load())
}

func TestBus_WildcardReceivesEverything(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var count atomic.Int32
	done := make(chan struct{}, 1)
	b.Subscribe(WildcardTopic, func(e schema.Event) error {
		if count.Add(1) == 2 {
			done <- struct{}{}
		}
		return nil
	})

	b.Publish(testEvent("s1", schema.EventAgentInvoked))
	b.Publish(testEvent("s1", schema.EventToolUsage))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	assert.Equal(t, int32(2), count.Load())
}

func TestBus_PerPublisherOrdering(t *testing.T) {
	b := New(nil, WithShardCount(1))
	defer b.Close()

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(5)
	b.Subscribe(WildcardTopic, func(e schema.Event) error {
		mu.Lock()
		order = append(order, e.EventID)
		mu.Unlock()
		wg.Done()
		return nil
	})

	for i := 0; i < 5; i++ {
		ev := testEvent("same-session", schema.EventToolUsage)
		ev.EventID = schema.FormatEventID("same-session", uint64(i))
		b.Publish(ev)
	}

	wg.Wait()
	require.Len(t, order, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, schema.FormatEventID("same-session", uint64(i)), order[i])
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var count atomic.Int32
	unsub := b.Subscribe(WildcardTopic, func(e schema.Event) error {
		count.Add(1)
		return nil
	})
	unsub()

	b.Publish(testEvent("s1", schema.EventAgentInvoked))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())
}

func TestBus_SubscriberPanicIsolated(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var secondCalled atomic.Bool
	done := make(chan struct{}, 1)
	b.Subscribe(WildcardTopic, func(e schema.Event) error {
		panic("boom")
	})
	b.Subscribe(WildcardTopic, func(e schema.Event) error {
		secondCalled.Store(true)
		done <- struct{}{}
		return nil
	})

	b.Publish(testEvent("s1", schema.EventAgentInvoked))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	assert.True(t, secondCalled.Load())
}
