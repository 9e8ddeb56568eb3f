package server

import "sync"

// Phase is the socket server lifecycle position.
type Phase int

const (
	PhaseInactive Phase = iota
	PhaseStarting
	PhaseListening
	PhaseConnected
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseInactive:
		return "inactive"
	case PhaseStarting:
		return "starting"
	case PhaseListening:
		return "listening"
	case PhaseConnected:
		return "connected"
	case PhaseStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// State is the lifecycle record shared with the interactive loop. Only the
// server that owns it changes it.
type State struct {
	mu     sync.RWMutex
	phase  Phase
	addr   string
	remote string
}

func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Active reports whether the listener is bound.
func (s *State) Active() bool {
	p := s.Phase()
	return p == PhaseListening || p == PhaseConnected
}

func (s *State) Connected() bool {
	return s.Phase() == PhaseConnected
}

// Addr is the bound listen address, empty while inactive.
func (s *State) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Remote is the peer address of the live connection, if any.
func (s *State) Remote() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remote
}

func (s *State) set(p Phase, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
	s.addr = addr
	if p != PhaseConnected {
		s.remote = ""
	}
}

func (s *State) connected(remote string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseConnected
	s.remote = remote
}

func (s *State) disconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseConnected {
		s.phase = PhaseListening
	}
	s.remote = ""
}
