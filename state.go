package rat

import log "github.com/sirupsen/logrus"

// State is one of the eight connection states a Socket can occupy.
// It is a closed enum: the state machine is a
// compile-time set-membership test on a small enum, not a dynamic string.
type State uint8

const (
	Unopened State = iota
	ServOpen
	HloSent
	HloRecv
	Established
	ByeSent
	ByeRecv
	Closed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "UNOPENED"
	case ServOpen:
		return "SERVOPEN"
	case HloSent:
		return "HLOSENT"
	case HloRecv:
		return "HLORECV"
	case Established:
		return "ESTABLISHED"
	case ByeSent:
		return "BYESENT"
	case ByeRecv:
		return "BYERECV"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// stateCheck fails with ErrInvalidState unless the socket's current state
// is one of allowed. It never mutates state: a call from a disallowed
// state fails and leaves the socket unchanged.
func (s *Socket) stateCheck(allowed ...State) error {
	cur := s.state()
	for _, a := range allowed {
		if cur == a {
			return nil
		}
	}
	log.WithFields(log.Fields{
		"id":    s.id,
		"state": cur,
	}).Debug("[STATE] operation rejected: not in an allowed state")
	return ErrInvalidState
}

// state returns the current state under the socket's mutex.
func (s *Socket) state() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentState
}

// setState transitions the socket, logging one Debugf per transition
// with a bracketed subsystem tag. Once CLOSED, no further transition is
// permitted; setState silently refuses to move out of CLOSED.
func (s *Socket) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentState == Closed {
		return
	}
	prev := s.currentState
	s.currentState = next
	log.WithFields(log.Fields{
		"id": s.id,
	}).Debugf("[STATE] %s -> %s", prev, next)
	if s.metrics != nil {
		s.metrics.StateChanged(s.id, uint8(next))
	}
}
