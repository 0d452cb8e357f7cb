package event

// Recorder is what the save coordinator needs from an aggregate.
type Recorder interface {
	Pending() []DomainEvent
	Clear()
}

// Aggregate buffers the domain events raised by one aggregate instance until
// the save coordinator flushes them. An aggregate is never mutated by two
// operations at once, so the buffer is not locked.
//
// Embed it in aggregate structs:
//
//	type Author struct {
//	    event.Aggregate
//	    id string
//	}
type Aggregate struct {
	pending []DomainEvent
}

// Record appends e to the pending buffer.
func (a *Aggregate) Record(e DomainEvent) {
	a.pending = append(a.pending, e)
}

// Pending returns a snapshot of the buffer in insertion order.
func (a *Aggregate) Pending() []DomainEvent {
	if len(a.pending) == 0 {
		return nil
	}
	out := make([]DomainEvent, len(a.pending))
	copy(out, a.pending)
	return out
}

// Clear empties the buffer.
func (a *Aggregate) Clear() {
	a.pending = nil
}
