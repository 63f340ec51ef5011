package safety

import (
	"sync"
	"time"
)

// State holds the process-wide safety flags. It is created once at startup
// and mutated only through the Governor. Emergency shutdown is sticky: once
// set it stays set until ResetEmergency.
type State struct {
	mu sync.RWMutex

	tradingEnabled bool
	emergency      bool

	initialBalance float64
	hasBaseline    bool
	maxLossPercent float64

	consecutiveFailures int
	lastBalance         float64
	lastLossPercent     float64
	lastBalanceCheck    time.Time
}

// NewState returns a State with trading enabled and no baseline.
func NewState(maxLossPercent float64) *State {
	return &State{tradingEnabled: true, maxLossPercent: maxLossPercent}
}

// TradingEnabled reports whether new trades may be opened.
func (s *State) TradingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradingEnabled
}

// EmergencyShutdown reports whether an emergency shutdown has been triggered.
func (s *State) EmergencyShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emergency
}

// SetBaseline fixes the balance that losses are measured against.
func (s *State) SetBaseline(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialBalance = balance
	s.hasBaseline = true
}

// Baseline returns the recorded baseline balance.
func (s *State) Baseline() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialBalance, s.hasBaseline
}

// recordBalance stores a balance observation, adopting it as the baseline if
// none exists, and returns the loss against the baseline and whether it
// breaches the limit.
func (s *State) recordBalance(balance float64, at time.Time) (loss float64, breached bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasBaseline {
		s.initialBalance = balance
		s.hasBaseline = true
	}
	if s.initialBalance > 0 {
		loss = (s.initialBalance - balance) / s.initialBalance * 100
	}
	if loss < 0 {
		loss = 0
	}
	s.lastBalance = balance
	s.lastLossPercent = loss
	s.lastBalanceCheck = at
	return loss, loss >= s.maxLossPercent
}

// beginShutdown flips the state into emergency. It returns false if an
// emergency was already active, which makes shutdown single-entry.
func (s *State) beginShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emergency {
		return false
	}
	s.emergency = true
	s.tradingEnabled = false
	return true
}

func (s *State) setTrading(enabled bool) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.tradingEnabled != enabled
	s.tradingEnabled = enabled
	if enabled {
		s.consecutiveFailures = 0
	}
	return changed
}

func (s *State) enableTrading() (emergency bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emergency {
		return true
	}
	s.tradingEnabled = true
	s.consecutiveFailures = 0
	return false
}

// resetEmergency clears the emergency and the baseline so the next balance
// check starts a fresh measurement. Trading stays disabled.
func (s *State) resetEmergency() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.emergency
	s.emergency = false
	s.hasBaseline = false
	s.initialBalance = 0
	s.consecutiveFailures = 0
	return was
}

func (s *State) healthFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	return s.consecutiveFailures
}

func (s *State) healthOK() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures = 0
}

// Status is a point-in-time view of State.
type Status struct {
	TradingEnabled      bool      `json:"trading_enabled"`
	EmergencyShutdown   bool      `json:"emergency_shutdown"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	InitialBalance      float64   `json:"initial_balance"`
	LastBalance         float64   `json:"last_balance"`
	LastLossPercent     float64   `json:"last_loss_percent"`
	LastBalanceCheck    time.Time `json:"last_balance_check"`
	MaxLossPercent      float64   `json:"max_loss_percent"`
}

// Status returns a snapshot of the state.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		TradingEnabled:      s.tradingEnabled,
		EmergencyShutdown:   s.emergency,
		ConsecutiveFailures: s.consecutiveFailures,
		InitialBalance:      s.initialBalance,
		LastBalance:         s.lastBalance,
		LastLossPercent:     s.lastLossPercent,
		LastBalanceCheck:    s.lastBalanceCheck,
		MaxLossPercent:      s.maxLossPercent,
	}
}
