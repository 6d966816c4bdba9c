package player

import "testing"

func TestBusDispatchesByType(t *testing.T) {
	bus := NewBus()
	var starts, ends int
	bus.On(EventTrackStart, func(Event) { starts++ })
	bus.On(EventTrackEnd, func(Event) { ends++ })

	bus.Emit(Event{Type: EventTrackStart})
	bus.Emit(Event{Type: EventTrackStart})
	bus.Emit(Event{Type: EventTrackEnd})

	if starts != 2 || ends != 1 {
		t.Fatalf("expected 2 starts and 1 end, got %d/%d", starts, ends)
	}
}

func TestBusOnAnyReceivesEverything(t *testing.T) {
	bus := NewBus()
	var got []EventType
	bus.OnAny(func(e Event) { got = append(got, e.Type) })

	bus.Emit(Event{Type: EventQueueAdd})
	bus.Emit(Event{Type: EventPlayerStop})

	if len(got) != 2 || got[0] != EventQueueAdd || got[1] != EventPlayerStop {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestBusHandlerPanicIsIsolated(t *testing.T) {
	bus := NewBus()
	var reached bool
	bus.On(EventTrackStart, func(Event) { panic("boom") })
	bus.On(EventTrackStart, func(Event) { reached = true })

	bus.Emit(Event{Type: EventTrackStart})

	if !reached {
		t.Fatalf("a panicking handler must not block its siblings")
	}
}
