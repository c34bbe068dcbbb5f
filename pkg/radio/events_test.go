package radio

import (
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	b := newBus()
	ch1, unsub1 := b.subscribe()
	ch2, unsub2 := b.subscribe()
	defer unsub1()
	defer unsub2()

	b.publish(Event{Kind: EventConnectionStatus, Status: StatusConnected})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind != EventConnectionStatus || ev.Status != StatusConnected {
				t.Errorf("subscriber %d got %+v", i, ev)
			}
			if ev.Time.IsZero() {
				t.Errorf("subscriber %d event has no timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := newBus()
	ch, unsub := b.subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	// Unsubscribing twice is safe.
	unsub()
	// Publishing to no subscribers is safe.
	b.publish(Event{Kind: EventError})
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	b := newBus()
	ch, unsub := b.subscribe()
	defer unsub()

	// Overflow the buffer; publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.publish(Event{Kind: EventNodeUpdated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	if len(ch) == 0 {
		t.Error("no events buffered at all")
	}
}

func TestBusCloseTerminatesSubscribers(t *testing.T) {
	b := newBus()
	ch, _ := b.subscribe()
	b.close()

	if _, ok := <-ch; ok {
		t.Error("channel still open after bus close")
	}
	// Subscribing after close yields a closed channel rather than panicking.
	ch2, unsub := b.subscribe()
	defer unsub()
	if _, ok := <-ch2; ok {
		t.Error("post-close subscription returned an open channel")
	}
}
