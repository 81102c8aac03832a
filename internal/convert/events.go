// Package convert implements the PDF conversion tasks: single-document
// conversion, sequential batch conversion, and asynchronous dispatch.
package convert

// EventKind identifies a conversion lifecycle event.
type EventKind string

const (
	EventStarted       EventKind = "started"
	EventProgress      EventKind = "progress"
	EventPageProcessed EventKind = "page_processed"
	EventCompleted     EventKind = "completed"
	EventFailed        EventKind = "error"
)

// Event is one conversion lifecycle notification. For a single attempt the
// sequence is strictly ordered: started, then progress / page_processed
// interleavings, then exactly one terminal completed or error event.
type Event struct {
	Kind  EventKind
	DocID int64

	// Progress and page accounting. Percent is set on progress events;
	// CurrentPage/TotalPages on page_processed events.
	Percent     float64
	CurrentPage int
	TotalPages  int

	// Terminal fields. OutputPath and PageCount are set on completed
	// events, Err on error events.
	OutputPath string
	PageCount  int
	Err        error
}

// EventSink receives conversion events. Emit is called from the goroutine
// running the conversion; implementations that hand events to another
// execution context are responsible for their own marshaling.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// NopSink discards all events.
var NopSink EventSink = SinkFunc(func(Event) {})

// MultiSink fans events out to every sink in order.
func MultiSink(sinks ...EventSink) EventSink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Emit(e)
		}
	})
}
