package events

import (
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe(EventOrderFilled, 4)
	defer unsub()

	bus.Publish(EventOrderFilled, "fill-1")

	select {
	case got := <-ch:
		if got != "fill-1" {
			t.Fatalf("payload=%v, expected fill-1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no payload received")
	}
}

func TestPublishDropsWhenSubscriberSlow(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe(EventPriceTick, 1)
	defer unsub()

	bus.Publish(EventPriceTick, 1)
	bus.Publish(EventPriceTick, 2) // buffer full, must drop without blocking

	if got := <-ch; got != 1 {
		t.Fatalf("first payload=%v, expected 1", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected second payload %v", got)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := bus.Subscribe(EventKillSwitch, 1)
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if n := bus.SubscriberCount(EventKillSwitch); n != 0 {
		t.Fatalf("SubscriberCount=%d, expected 0", n)
	}

	// Publishing to a removed subscriber must not panic.
	bus.Publish(EventKillSwitch, "x")
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe(EventCycleComplete, 1)

	bus.Close()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after bus close")
	}

	// Subscribe after close yields a closed channel.
	ch2, _ := bus.Subscribe(EventCycleComplete, 1)
	if _, ok := <-ch2; ok {
		t.Fatal("subscribe after close returned open channel")
	}
}
