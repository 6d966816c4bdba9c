package player

import (
	"log/slog"
	"sync"
)

// EventType names an observable player event. The names are the wire contract
// shared by Player and Manager subscribers.
type EventType string

const (
	EventTrackStart      EventType = "trackStart"
	EventTrackEnd        EventType = "trackEnd"
	EventQueueEnd        EventType = "queueEnd"
	EventQueueAdd        EventType = "queueAdd"
	EventQueueAddList    EventType = "queueAddList"
	EventQueueRemove     EventType = "queueRemove"
	EventWillPlay        EventType = "willPlay"
	EventPlayerPause     EventType = "playerPause"
	EventPlayerResume    EventType = "playerResume"
	EventPlayerStop      EventType = "playerStop"
	EventPlayerDestroy   EventType = "playerDestroy"
	EventVolumeChange    EventType = "volumeChange"
	EventPlayerError     EventType = "playerError"
	EventConnectionError EventType = "connectionError"
	EventTTSStart        EventType = "ttsStart"
	EventTTSEnd          EventType = "ttsEnd"
	EventDebug           EventType = "debug"
)

// Event is the payload delivered to subscribers. Player is always set; the
// remaining fields depend on the event type.
type Event struct {
	Type    EventType
	Player  *Player
	Track   *Track
	Tracks  []*Track
	Err     error
	Volume  int
	Message string
}

// Handler receives a single event. Handlers must not block; dispatch is
// synchronous on the emitting goroutine.
type Handler func(Event)

// Bus is a minimal observer registry. A handler panic is recovered and logged
// so one misbehaving subscriber cannot break the pipeline.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	any      []Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// On registers a handler for a single event type.
func (b *Bus) On(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// OnAny registers a handler for every event type.
func (b *Bus) OnAny(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.any = append(b.any, h)
}

// Emit dispatches an event to all matching handlers in registration order.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	typed := b.handlers[e.Type]
	any := b.any
	b.mu.RUnlock()

	for _, h := range typed {
		dispatch(h, e)
	}
	for _, h := range any {
		dispatch(h, e)
	}
}

func dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "type", e.Type, "panic", r)
		}
	}()
	h(e)
}
