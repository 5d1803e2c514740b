// Package ops provides the process's ambient surfaces: the health/ready
// HTTP endpoints and the security-event sink, neither of which is part of
// the tagging domain itself (spec §6, §2.12).
package ops

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/txntag/autotag/internal/domain"
	"github.com/txntag/autotag/internal/rules"
)

// systemCompanyCode is the event-bus scope used for security events, which
// are process-wide rather than tied to one company's tagging run.
const systemCompanyCode = "system"

// SecurityLogger is the default rules.SecurityLogger: every event is
// written to a dedicated "security" slog channel and republished on
// domain.TopicSecurityEvent so an in-process subscriber can observe it
// without tailing logs (spec §6, SPEC_FULL.md §4.0).
type SecurityLogger struct {
	log *slog.Logger
	bus domain.EventBus
}

// NewSecurityLogger binds a security logger to the process's event bus.
// bus may be nil, in which case events are only logged, never published.
func NewSecurityLogger(bus domain.EventBus) *SecurityLogger {
	return &SecurityLogger{
		log: slog.Default().With("channel", "security"),
		bus: bus,
	}
}

// LogSecurityEvent implements rules.SecurityLogger.
func (s *SecurityLogger) LogSecurityEvent(ctx context.Context, evt rules.SecurityEvent) {
	s.log.WarnContext(ctx, "security event",
		"event_type", evt.EventType,
		"rule_name", evt.RuleName,
		"expression", evt.Expression,
		"detail", evt.Detail,
	)

	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, systemCompanyCode, domain.TopicSecurityEvent, payload); err != nil {
		s.log.WarnContext(ctx, "failed to publish security event", "error", err)
	}
}
