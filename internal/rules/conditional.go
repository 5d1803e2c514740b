package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/txntag/autotag/internal/domain"
)

// ConditionalProcessor implements the structured boolean DSL (spec §4.2).
// Config shape: {"conditions": [<clause>, ...]}. Returns the tag of the
// first top-level clause whose predicate is true.
type ConditionalProcessor struct{}

func (ConditionalProcessor) Process(_ context.Context, tx *domain.Transaction, metadata map[string]any, config json.RawMessage) (string, bool, error) {
	var cfg domain.ConditionalRuleConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return "", false, fmt.Errorf("conditional rule config: %w", err)
	}

	resolve := FieldResolver(tx, metadata)
	for _, raw := range cfg.Conditions {
		clause, err := ParseCondition(raw)
		if err != nil {
			return "", false, err
		}
		if clause != nil && clause.Evaluate(resolve) {
			return clause.Tag, true, nil
		}
	}
	return "", false, nil
}

// EvaluateGuard evaluates a rule's optional `conditions` guard as a single
// top-level clause (spec §4.4 step 4a), not a list. An empty guard always
// passes.
func EvaluateGuard(tx *domain.Transaction, metadata map[string]any, conditions json.RawMessage) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}
	clause, err := ParseCondition(conditions)
	if err != nil {
		return false, fmt.Errorf("rule guard: %w", err)
	}
	if clause == nil {
		return true, nil
	}
	return clause.Evaluate(FieldResolver(tx, metadata)), nil
}
