package supervisor

// EventType enumerates the push notifications forwarded across the IPC bridge.
type EventType string

const (
	EventOutput EventType = "output"
	EventExit   EventType = "exit"
	EventError  EventType = "error"
)

// Event is a single supervisor notification. Output events carry already
// sanitized lines; the bridge forwards them verbatim.
type Event struct {
	Type    EventType `json:"type"`
	ID      string    `json:"id"`
	Stream  string    `json:"stream,omitempty"` // "stdout" or "stderr"
	Lines   []string  `json:"lines,omitempty"`
	Code    *int      `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// subscriber channel depth. Slow consumers lose events rather than stalling
// the supervisor; a consumer needing full fidelity should read promptly and
// fall back to Status polling.
const subBuffer = 256

// Subscribe registers an event consumer. The returned cancel function must be
// called when the consumer goes away; it is safe to call more than once.
func (s *Supervisor) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subBuffer)
	if s.subs == nil {
		s.subs = make(map[int]chan Event)
	}
	s.subs[id] = ch
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// publish fans an event out to all subscribers. Callers must hold s.mu, which
// is what guarantees per-process ordering: output events enter every
// subscriber channel before the exit event for the same process.
func (s *Supervisor) publish(ev Event) {
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("event subscriber overflow, dropping event",
				"subscriber", id, "event", string(ev.Type), "process", ev.ID)
		}
	}
}

// closeSubscribers drops all subscribers. Called at the end of Cleanup so
// bridge forwarders observe end-of-stream. Callers must hold s.mu.
func (s *Supervisor) closeSubscribers() {
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
