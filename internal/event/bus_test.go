package event

import "testing"

type pinged struct{ n int }

type ponged struct{ msg string }

func TestPublishIsTyped(t *testing.T) {
	bus := NewBus()

	var pings []int
	var pongs []string
	Subscribe(bus, func(p pinged) { pings = append(pings, p.n) })
	Subscribe(bus, func(p ponged) { pongs = append(pongs, p.msg) })

	Publish(bus, pinged{n: 1})
	Publish(bus, ponged{msg: "a"})
	Publish(bus, pinged{n: 2})

	if len(pings) != 2 || pings[0] != 1 || pings[1] != 2 {
		t.Fatalf("unexpected pings: %v", pings)
	}
	if len(pongs) != 1 || pongs[0] != "a" {
		t.Fatalf("unexpected pongs: %v", pongs)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	unsubscribe := Subscribe(bus, func(pinged) { count++ })
	Subscribe(bus, func(pinged) { count += 10 })

	Publish(bus, pinged{})
	unsubscribe()
	unsubscribe()
	Publish(bus, pinged{})

	if count != 21 {
		t.Fatalf("expected 21, got %d", count)
	}
	if Subscribers[pinged](bus) != 1 {
		t.Fatalf("expected 1 remaining subscriber")
	}
}

func TestHandlerMayPublish(t *testing.T) {
	bus := NewBus()

	var got string
	Subscribe(bus, func(p pinged) { Publish(bus, ponged{msg: "from ping"}) })
	Subscribe(bus, func(p ponged) { got = p.msg })

	Publish(bus, pinged{})
	if got != "from ping" {
		t.Fatalf("nested publish not delivered, got %q", got)
	}
}

func TestPublishNilBus(t *testing.T) {
	var bus *Bus
	Publish(bus, pinged{})
}
