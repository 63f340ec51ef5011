package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

const (
	// EventsChannel carries every system event as JSON.
	EventsChannel = "events"
	// EventsStream keeps a replayable history of system events.
	EventsStream = "events:stream"
)

// EventNotifier forwards an event to operators.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.SystemEvent) error
}

// EventRecorder implements domain.EventLogger. Events are stored in Postgres,
// published on the event bus, and error or critical events are forwarded to
// the notifier. Any of store, bus and notifier may be nil.
type EventRecorder struct {
	store    domain.EventStore
	bus      domain.EventBus
	notifier EventNotifier
	now      func() time.Time
	logger   *slog.Logger
}

// NewEventRecorder creates an EventRecorder.
func NewEventRecorder(store domain.EventStore, bus domain.EventBus, notifier EventNotifier, logger *slog.Logger) *EventRecorder {
	return &EventRecorder{
		store:    store,
		bus:      bus,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "event_recorder")),
	}
}

// LogEvent records ev. Every sink is attempted; failures are joined.
func (r *EventRecorder) LogEvent(ctx context.Context, ev domain.SystemEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Time.IsZero() {
		ev.Time = r.now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = domain.SeverityInfo
	}

	var errs []error
	if r.store != nil {
		if err := r.store.Insert(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}

	if r.bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("service: marshal event: %w", err))
		} else {
			if err := r.bus.Publish(ctx, EventsChannel, payload); err != nil {
				errs = append(errs, err)
			}
			if err := r.bus.StreamAppend(ctx, EventsStream, payload); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if r.notifier != nil && (ev.Severity == domain.SeverityCritical || ev.Severity == domain.SeverityError) {
		if err := r.notifier.NotifyEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		r.logger.WarnContext(ctx, "event not fully recorded",
			slog.String("event_type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// Recent returns the newest events from the store.
func (r *EventRecorder) Recent(ctx context.Context, opts domain.ListOpts) ([]domain.SystemEvent, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.List(ctx, opts)
}

var _ domain.EventLogger = (*EventRecorder)(nil)
