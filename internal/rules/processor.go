package rules

import (
	"context"
	"encoding/json"

	"github.com/txntag/autotag/internal/domain"
)

// Processor is the common contract every rule family implements: given a
// transaction, its metadata, and the rule's opaque config, produce a tag
// or none (spec §2 item 1).
type Processor interface {
	Process(ctx context.Context, tx *domain.Transaction, metadata map[string]any, config json.RawMessage) (tag string, matched bool, err error)
}

// SecurityEvent is the structured payload emitted on the dedicated
// security log sink for CEL failures and rejected legacy scripts
// (spec §6, §7).
type SecurityEvent struct {
	EventType  string `json:"event_type"`
	RuleName   string `json:"rule_name,omitempty"`
	Expression string `json:"expression,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// SecurityLogger receives SecurityEvents. Implementations typically log
// via slog and/or publish to domain.TopicSecurityEvent.
type SecurityLogger interface {
	LogSecurityEvent(ctx context.Context, evt SecurityEvent)
}
