// ABOUTME: Tests for the per-thread subscriber Hub
// ABOUTME: Covers subscribe, broadcast, slow-consumer drop, unsubscribe idempotency

package hub

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/thread-relay/internal/store"
)

func makeMessage(id, threadID int64) *store.Message {
	return &store.Message{
		ID:        id,
		ThreadID:  threadID,
		Content:   fmt.Sprintf("message %d", id),
		Role:      store.RoleUser,
		CreatedAt: time.Now().UTC(),
	}
}

func TestHub_SingleSubscriberReceivesMessage(t *testing.T) {
	h := New(0, nil)
	defer h.Close()

	ch, _ := h.Subscribe(42)

	h.Broadcast(42, makeMessage(1, 42))

	select {
	case received := <-ch:
		assert.Equal(t, int64(1), received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestHub_MultipleSubscribersReceiveSameMessage(t *testing.T) {
	h := New(0, nil)
	defer h.Close()

	ch1, _ := h.Subscribe(42)
	ch2, _ := h.Subscribe(42)
	ch3, _ := h.Subscribe(42)

	h.Broadcast(42, makeMessage(2, 42))

	for i, ch := range []<-chan *store.Message{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, int64(2), received.ID, "subscriber %d got wrong message", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestHub_ThreadsAreIsolated(t *testing.T) {
	h := New(0, nil)
	defer h.Close()

	ch1, _ := h.Subscribe(1)
	ch2, _ := h.Subscribe(2)

	h.Broadcast(1, makeMessage(3, 1))

	select {
	case received := <-ch1:
		assert.Equal(t, int64(3), received.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber for thread 1 timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for thread 2 should not receive messages for thread 1")
	case <-time.After(100 * time.Millisecond):
		// Expected: no message
	}
}

func TestHub_BroadcastWithNoSubscribersIsNoOp(t *testing.T) {
	h := New(0, nil)
	defer h.Close()

	// Must not panic or block
	h.Broadcast(42, makeMessage(4, 42))
}

func TestHub_DeliveryOrderMatchesBroadcastOrder(t *testing.T) {
	h := New(0, nil)
	defer h.Close()

	ch, _ := h.Subscribe(42)

	for i := int64(1); i <= 10; i++ {
		h.Broadcast(42, makeMessage(i, 42))
	}

	for i := int64(1); i <= 10; i++ {
		select {
		case received := <-ch:
			assert.Equal(t, i, received.ID)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	h := New(10*time.Millisecond, nil)
	defer h.Close()

	slow, _ := h.Subscribe(42)
	fast, _ := h.Subscribe(42)

	fastCount := make(chan int)
	go func() {
		n := 0
		for range fast {
			n++
		}
		fastCount <- n
	}()

	// Fill the slow subscriber's buffer without draining it
	total := int64(subscriberBufferSize + 1)
	for i := int64(1); i <= total; i++ {
		h.Broadcast(42, makeMessage(i, 42))
	}

	// The overflowing broadcast dropped the slow subscriber: its channel
	// is closed after the buffered messages are drained.
	assert.Equal(t, 1, h.SubscriberCount(42))

	drained := 0
	for range slow {
		drained++
	}
	assert.Equal(t, subscriberBufferSize, drained)

	// The fast subscriber is unaffected and received everything
	h.Close()
	assert.Equal(t, int(total), <-fastCount)
}

func TestHub_StalledBroadcastDoesNotBlockRegistry(t *testing.T) {
	h := New(time.Second, nil)
	defer h.Close()

	// Fill a subscriber's buffer so the next broadcast to it stalls in the
	// bounded wait.
	slow, _ := h.Subscribe(1)
	_ = slow
	for i := int64(1); i <= int64(subscriberBufferSize); i++ {
		h.Broadcast(1, makeMessage(i, 1))
	}

	stalled := make(chan struct{})
	go func() {
		h.Broadcast(1, makeMessage(subscriberBufferSize+1, 1))
		close(stalled)
	}()

	// While that broadcast waits on the full buffer, the registry and
	// other threads' broadcasts proceed immediately.
	ch, subID := h.Subscribe(2)
	h.Broadcast(2, makeMessage(500, 2))

	select {
	case received := <-ch:
		assert.Equal(t, int64(500), received.ID)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("broadcast on another thread blocked behind a stalled subscriber")
	}
	h.Unsubscribe(2, subID)

	select {
	case <-stalled:
	case <-time.After(3 * time.Second):
		t.Fatal("stalled broadcast never completed")
	}
	assert.Equal(t, 0, h.SubscriberCount(1), "slow subscriber should have been dropped")
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := New(0, nil)
	defer h.Close()

	ch, subID := h.Subscribe(42)
	h.Unsubscribe(42, subID)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, h.SubscriberCount(42))
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := New(0, nil)
	defer h.Close()

	_, subID := h.Subscribe(42)
	h.Unsubscribe(42, subID)
	h.Unsubscribe(42, subID)
	h.Unsubscribe(99, "unknown")
}

func TestHub_CloseClosesAllChannels(t *testing.T) {
	h := New(0, nil)

	ch1, _ := h.Subscribe(1)
	ch2, _ := h.Subscribe(2)

	h.Close()

	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)
}

func TestHub_ConcurrentSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := New(10*time.Millisecond, nil)
	defer h.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ch, subID := h.Subscribe(7)
				h.Broadcast(7, makeMessage(int64(j+1), 7))
				h.Unsubscribe(7, subID)
				for range ch {
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 0, h.SubscriberCount(7))
}
