package eventbus

// Event represents an arbitrary event passed on the bus.
type Event interface{}

// EventBus implements a simple publish/subscribe event bus.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus is the default EventBus implementation using fan-out channels.
type Bus = TypedBus[Event]

// New creates a new Bus with the default subscriber buffer.
func New() *Bus { return NewTyped[Event]() }

// NewWithBuffer creates a Bus whose subscribers buffer up to size events.
func NewWithBuffer(size int) *Bus { return NewTypedWithBuffer[Event](size) }
