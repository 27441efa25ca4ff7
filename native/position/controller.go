package position

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ModuleName identifies the position module to pause switches.
const ModuleName = "position"

// Controller supplies the process-wide configuration an adapter reads at the
// start of every call.
type Controller interface {
	HealthFactors() HealthFactors
	Operator() common.Address
	Tracker() OpenPositionTracker
	IsPaused(module string) bool
}

// OpenPositionTracker records which adapters currently hold an open
// position.
type OpenPositionTracker interface {
	Open(adapter common.Address)
	Close(adapter common.Address)
	IsOpen(adapter common.Address) bool
	List() []common.Address
}

// Settings is the in-process Controller. Setters validate before storing so
// readers never observe an inconsistent configuration.
type Settings struct {
	mu       sync.RWMutex
	factors  HealthFactors
	operator common.Address
	tracker  OpenPositionTracker
	paused   map[string]bool
}

// NewSettings validates the initial configuration.
func NewSettings(operator common.Address, factors HealthFactors, tracker OpenPositionTracker) (*Settings, error) {
	if operator == (common.Address{}) {
		return nil, fmt.Errorf("%w: operator", ErrZeroAddress)
	}
	if err := factors.Validate(); err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = NewTracker()
	}
	return &Settings{
		factors:  factors,
		operator: operator,
		tracker:  tracker,
		paused:   make(map[string]bool),
	}, nil
}

func (s *Settings) HealthFactors() HealthFactors {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.factors
}

func (s *Settings) Operator() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operator
}

func (s *Settings) Tracker() OpenPositionTracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracker
}

func (s *Settings) IsPaused(module string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[module]
}

// SetHealthFactors replaces the bounds after validating them.
func (s *Settings) SetHealthFactors(factors HealthFactors) error {
	if err := factors.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.factors = factors
	s.mu.Unlock()
	return nil
}

// SetOperator hands the operator role to a new address.
func (s *Settings) SetOperator(operator common.Address) error {
	if operator == (common.Address{}) {
		return fmt.Errorf("%w: operator", ErrZeroAddress)
	}
	s.mu.Lock()
	s.operator = operator
	s.mu.Unlock()
	return nil
}

// SetPaused toggles the pause switch of the position module.
func (s *Settings) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused[ModuleName] = paused
	s.mu.Unlock()
}
