package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/equitydesk/vestd/internal/domain"
)

// Relay subscribes to the engine's signal bus and forwards grant events to
// the Notifier, turning raw bus payloads into operator-readable alerts.
type Relay struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a Relay that forwards events from bus to notifier.
func NewRelay(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run consumes the grants channel until ctx ends. Malformed payloads are
// logged and skipped.
func (r *Relay) Run(ctx context.Context) error {
	ch, err := r.bus.Subscribe(ctx, "grants")
	if err != nil {
		return fmt.Errorf("notify: subscribe grants: %w", err)
	}

	r.logger.InfoContext(ctx, "relay started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(ctx, payload)
		}
	}
}

func (r *Relay) forward(ctx context.Context, payload []byte) {
	var evt map[string]any
	if err := json.Unmarshal(payload, &evt); err != nil {
		r.logger.WarnContext(ctx, "malformed bus payload",
			slog.String("error", err.Error()),
		)
		return
	}

	event, _ := evt["event"].(string)
	if event == "" {
		return
	}
	grantID, _ := evt["grant_id"].(string)

	title := titleFor(event)
	if notifyErr := r.notifier.Notify(ctx, event, title, fmt.Sprintf("grant %s: %s", grantID, string(payload))); notifyErr != nil {
		r.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("grant_id", grantID),
			slog.String("error", notifyErr.Error()),
		)
	}
}

func titleFor(event string) string {
	switch event {
	case "grant_created":
		return "Grant created"
	case "vesting_advanced":
		return "Vesting advanced"
	case "options_exercised":
		return "Options exercised"
	case "grant_cancelled":
		return "Grant cancelled"
	case "ledger_corruption":
		return "LEDGER CORRUPTION"
	default:
		return event
	}
}
