package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/txntag/autotag/internal/domain"
)

// ValidateRuleConfig checks a rule_config blob against the shape its
// rule_type requires (spec §4.6). Unknown rule types are accepted for
// forward compatibility.
func ValidateRuleConfig(ruleType domain.RuleType, config json.RawMessage) error {
	var generic map[string]any
	if len(config) > 0 {
		if err := json.Unmarshal(config, &generic); err != nil {
			return fmt.Errorf("rule_config is not a JSON object: %w", err)
		}
	}

	switch ruleType {
	case domain.RuleTypeSimple:
		if _, ok := generic["mappings"].(map[string]any); !ok {
			return fmt.Errorf("simple rule requires object field 'mappings'")
		}
	case domain.RuleTypeConditional:
		if _, ok := generic["conditions"].([]any); !ok {
			return fmt.Errorf("conditional rule requires array field 'conditions'")
		}
	case domain.RuleTypeScript:
		// Historical syntax check, vestigial under the CEL regime
		// (spec §4.6): the original validator compiled the script as an
		// imperative function body. Imperative scripts are now rejected
		// at evaluation time instead (cel.go), so this only checks that
		// the field is present.
		if script, ok := generic["script"].(string); !ok || script == "" {
			return fmt.Errorf("script rule requires non-empty string field 'script'")
		}
	case domain.RuleTypeCEL:
		// At least one of expression or conditions is recommended but
		// not required (spec §4.6); validation passes on any object.
	case domain.RuleTypeML:
		if _, ok := generic["model_type"].(string); !ok {
			return fmt.Errorf("ml rule requires string field 'model_type'")
		}
	}
	return nil
}

// RuleEnvelope is the JSON import/export shape of spec §4.6.
type RuleEnvelope struct {
	CompanyCode string            `json:"company_code"`
	CompanyName string            `json:"company_name"`
	Rules       []RuleEnvelopeRule `json:"rules"`
}

// RuleEnvelopeRule is one rule within a RuleEnvelope.
type RuleEnvelopeRule struct {
	Name       string          `json:"name"`
	RuleType   domain.RuleType `json:"rule_type"`
	Priority   int             `json:"priority"`
	RuleConfig json.RawMessage `json:"rule_config"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
	IsActive   bool            `json:"is_active"`
}

// ExportRules builds the export envelope for a company's rules (spec
// §4.6). Callers are expected to json.MarshalIndent the result for the
// "pretty-printed JSON" requirement.
func ExportRules(company *domain.Company, rules []*domain.TaggingRule) RuleEnvelope {
	envelope := RuleEnvelope{
		CompanyCode: company.Code,
		CompanyName: company.Name,
		Rules:       make([]RuleEnvelopeRule, 0, len(rules)),
	}
	for _, r := range rules {
		envelope.Rules = append(envelope.Rules, RuleEnvelopeRule{
			Name:       r.Name,
			RuleType:   r.RuleType,
			Priority:   r.Priority,
			RuleConfig: r.RuleConfig,
			Conditions: r.Conditions,
			IsActive:   r.IsActive,
		})
	}
	return envelope
}

// ImportResult is the outcome of ImportRules (spec §4.6).
type ImportResult struct {
	Imported int      `json:"imported"`
	Errors   []string `json:"errors"`
}

// ImportRules resolves the envelope's company and upserts each rule by
// (company, name), validating each one. Per-rule errors are collected;
// the loop never aborts on a single bad rule (spec §7 "one bad rule never
// fails a transaction").
func ImportRules(ctx context.Context, repo domain.Repository, envelope RuleEnvelope) (*ImportResult, error) {
	if envelope.CompanyCode == "" {
		return nil, fmt.Errorf("envelope missing company_code")
	}
	company, err := repo.GetCompany(ctx, envelope.CompanyCode)
	if err != nil {
		return nil, fmt.Errorf("resolve company %s: %w", envelope.CompanyCode, err)
	}

	result := &ImportResult{}
	for _, r := range envelope.Rules {
		if err := ValidateRuleConfig(r.RuleType, r.RuleConfig); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("rule %q: %s", r.Name, err))
			continue
		}
		rule := &domain.TaggingRule{
			CompanyCode: company.Code,
			Name:        r.Name,
			RuleType:    r.RuleType,
			Priority:    r.Priority,
			RuleConfig:  r.RuleConfig,
			Conditions:  r.Conditions,
			IsActive:    r.IsActive,
		}
		if err := repo.SaveTaggingRule(ctx, rule); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("rule %q: %s", r.Name, err))
			continue
		}
		result.Imported++
	}
	return result, nil
}

// GenerateSampleRules returns a fixed list of illustrative rules covering
// simple, conditional, and CEL shapes (spec §4.6). The third sample is
// expressed as a CEL ternary rather than a literal port of the
// imperative-script sample the original distillation used — a literal
// port would describe a script rule that the legacy-script guard always
// rejects (see DESIGN.md).
func GenerateSampleRules() []RuleEnvelopeRule {
	highValueTag := "HIGH_VALUE_ONLINE"
	standardTag := "STANDARD"
	goldPremiumTag := "GOLD_PREMIUM"

	return []RuleEnvelopeRule{
		{
			Name:     "product-code-mapping",
			RuleType: domain.RuleTypeSimple,
			Priority: 100,
			RuleConfig: mustJSON(domain.SimpleRuleConfig{
				Mappings: map[string]map[string]string{
					"product_code": {
						"PROD_A": "TAG_001",
						"PROD_B": "TAG_002",
						"PROD_C": "TAG_003",
					},
				},
			}),
			IsActive: true,
		},
		{
			Name:     "online-high-value",
			RuleType: domain.RuleTypeConditional,
			Priority: 50,
			RuleConfig: mustJSON(map[string]any{
				"conditions": []map[string]any{
					{
						"operator": "and",
						"tag":      highValueTag,
						"conditions": []map[string]any{
							{"field": "source", "operator": "equals", "value": "online"},
							{"field": "metadata.amount", "operator": "greater_than", "value": 1000},
						},
					},
				},
			}),
			IsActive: true,
		},
		{
			Name:     "premium-gold-tier",
			RuleType: domain.RuleTypeCEL,
			Priority: 25,
			RuleConfig: mustJSON(domain.CELRuleConfig{
				Expression: "transaction.product_code.startsWith('PREMIUM') && metadata.customer_tier == 'gold' ? '" + goldPremiumTag + "' : '" + standardTag + "'",
			}),
			Conditions: mustJSON(map[string]any{
				"field":    "metadata.customer_tier",
				"operator": "not_equals",
				"value":    nil,
			}),
			IsActive: true,
		},
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
