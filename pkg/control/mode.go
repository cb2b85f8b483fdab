package control

import (
	"fmt"
	"sync"
)

// Mode selects whether decisions are dispatched to the actuator side or only
// recorded.
type Mode string

const (
	ModeAdvisory   Mode = "advisory"
	ModeClosedLoop Mode = "closed_loop"
)

// ParseMode parses a mode string from configuration or the mode-control API.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAdvisory, ModeClosedLoop:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q (want %q or %q)", s, ModeAdvisory, ModeClosedLoop)
}

// Switch is the process-wide mode and kill switch. Set at startup from
// configuration, mutable at runtime through the mode-control endpoint, and
// read by the dispatch path immediately before every sink call.
type Switch struct {
	mu   sync.RWMutex
	mode Mode
	kill bool
}

// NewSwitch creates a switch in the given mode with the kill switch off.
func NewSwitch(mode Mode) *Switch {
	if mode == "" {
		mode = ModeAdvisory
	}
	return &Switch{mode: mode}
}

// Mode returns the current mode.
func (s *Switch) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode changes the mode.
func (s *Switch) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// KillSwitch reports whether the kill switch is engaged.
func (s *Switch) KillSwitch() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kill
}

// SetKillSwitch engages or releases the kill switch.
func (s *Switch) SetKillSwitch(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kill = on
}

// Dispatchable reports whether an approved action may actually be sent to
// the sink right now. False turns the decision into an advisory record.
func (s *Switch) Dispatchable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode == ModeClosedLoop && !s.kill
}
