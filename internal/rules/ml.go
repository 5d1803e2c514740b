package rules

import (
	"context"
	"encoding/json"

	"github.com/txntag/autotag/internal/domain"
)

// MLProcessor is a placeholder for the ml rule family (spec §2 item 1,
// §3, Non-goals "ML model training/inference"). It always returns no
// tag; validation still requires model_type so the rule lifecycle can
// round-trip ml rules once a real implementation lands.
type MLProcessor struct{}

func (MLProcessor) Process(_ context.Context, _ *domain.Transaction, _ map[string]any, _ json.RawMessage) (string, bool, error) {
	return "", false, nil
}
