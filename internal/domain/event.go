package domain

import (
	"context"
	"time"
)

// EventType classifies a system event.
type EventType string

const (
	EventDensityDetected        EventType = "density_detected"
	EventDensityDisappeared     EventType = "density_disappeared"
	EventPositionClosed         EventType = "position_closed"
	EventPositionEmergencyClose EventType = "position_emergency_close"
	EventBreakevenMoved         EventType = "breakeven_moved"
	EventEmergencyShutdown      EventType = "emergency_shutdown"
	EventTradingDisabled        EventType = "trading_disabled"
	EventTradingEnabled         EventType = "trading_enabled"
	EventCloseAllResult         EventType = "close_all_result"
	EventHealthCheckFailed      EventType = "health_check_failed"
	EventBotError               EventType = "bot_error"
)

// Severity is the importance of a system event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// SystemEvent is an operator-facing record of something the bot did or saw.
type SystemEvent struct {
	ID       string         `json:"id"`
	Time     time.Time      `json:"time"`
	Type     EventType      `json:"event_type"`
	Severity Severity       `json:"severity"`
	Symbol   string         `json:"symbol,omitempty"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// EventLogger records system events.
type EventLogger interface {
	LogEvent(ctx context.Context, ev SystemEvent) error
}
