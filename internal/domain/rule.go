package domain

import (
	"encoding/json"
	"time"
)

// RuleType identifies which processor a TaggingRule's rule_config is
// interpreted by. Closed variant set dispatched by the rules engine
// (spec §9 "dynamic rule dispatch by string tag").
type RuleType string

const (
	RuleTypeSimple      RuleType = "simple"
	RuleTypeConditional RuleType = "conditional"
	// RuleTypeScript is a legacy alias for RuleTypeCEL: rule_config shaped
	// the same way, routed to the same processor.
	RuleTypeScript RuleType = "script"
	RuleTypeCEL    RuleType = "cel"
	RuleTypeML     RuleType = "ml"
)

// TaggingRule is a named, prioritized, per-company unit of tagging logic.
// (company, name) is unique; rules are owned by their Company.
type TaggingRule struct {
	ID          string   `json:"id"`
	CompanyCode string   `json:"companyCode"`
	Name        string   `json:"name"`
	RuleType    RuleType `json:"ruleType"`

	// Priority is a rule's ordinal position; lower value = earlier
	// evaluation.
	Priority int `json:"priority"`

	// RuleConfig is free-form JSON whose shape depends on RuleType.
	// Kept opaque here; each processor owns a typed view parsed on use.
	RuleConfig json.RawMessage `json:"ruleConfig"`

	// Conditions is an optional guard tree evaluated before the
	// processor runs. Same grammar as the conditional processor's
	// config, but interpreted as a single top-level clause rather than
	// a list.
	Conditions json.RawMessage `json:"conditions,omitempty"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SimpleRuleConfig is the typed view of rule_config for RuleTypeSimple.
// Mappings maps a field name to a value->tag lookup table.
type SimpleRuleConfig struct {
	Mappings map[string]map[string]string `json:"mappings"`
}

// ConditionalRuleConfig is the typed view of rule_config for
// RuleTypeConditional.
type ConditionalRuleConfig struct {
	Conditions []json.RawMessage `json:"conditions"`
}

// CELRuleConfig is the typed view of rule_config for RuleTypeCEL and its
// legacy RuleTypeScript alias.
type CELRuleConfig struct {
	// Expression is used in single-expression mode.
	Expression string `json:"expression,omitempty"`
	// Script is the legacy field name; treated as Expression unless it
	// contains imperative-language markers, in which case it is rejected.
	Script string `json:"script,omitempty"`
	// Conditions is used in conditions mode: ordered expression/tag pairs.
	Conditions []CELCondition `json:"conditions,omitempty"`
	// DefaultTag is returned when no expression/condition produces a tag.
	DefaultTag *string `json:"default_tag,omitempty"`
}

// CELCondition is one entry of a CELRuleConfig's conditions-mode list.
type CELCondition struct {
	Expression string `json:"expression"`
	Tag        string `json:"tag"`
}

// MLRuleConfig is the typed view of rule_config for RuleTypeML. The ML
// processor is a placeholder; it always returns no tag.
type MLRuleConfig struct {
	ModelType string `json:"model_type"`
}
