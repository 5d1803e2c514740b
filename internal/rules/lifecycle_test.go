package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/txntag/autotag/internal/domain"
)

func TestValidateRuleConfigPerType(t *testing.T) {
	cases := []struct {
		name     string
		ruleType domain.RuleType
		config   string
		wantErr  bool
	}{
		{"simple valid", domain.RuleTypeSimple, `{"mappings":{"product_code":{"A":"T1"}}}`, false},
		{"simple missing mappings", domain.RuleTypeSimple, `{}`, true},
		{"conditional valid", domain.RuleTypeConditional, `{"conditions":[{"field":"source","operator":"equals","value":"online","tag":"X"}]}`, false},
		{"conditional missing conditions", domain.RuleTypeConditional, `{}`, true},
		{"script valid", domain.RuleTypeScript, `{"script":"def f(): return 1"}`, false},
		{"script missing script", domain.RuleTypeScript, `{}`, true},
		{"cel any object", domain.RuleTypeCEL, `{"expression":"true"}`, false},
		{"ml valid", domain.RuleTypeML, `{"model_type":"classifier"}`, false},
		{"ml missing model_type", domain.RuleTypeML, `{}`, true},
		{"unknown type accepted", domain.RuleType("exotic"), `{}`, false},
		{"not an object", domain.RuleTypeSimple, `"nope"`, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateRuleConfig(c.ruleType, json.RawMessage(c.config))
			if c.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !c.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	company := &domain.Company{Code: "acme", Name: "Acme Corp", IsActive: true}
	if err := repo.SaveCompany(context.Background(), company); err != nil {
		t.Fatalf("SaveCompany: %v", err)
	}

	rule := &domain.TaggingRule{
		CompanyCode: "acme",
		Name:        "product-code-mapping",
		RuleType:    domain.RuleTypeSimple,
		Priority:    100,
		RuleConfig:  mustJSON(domain.SimpleRuleConfig{Mappings: map[string]map[string]string{"product_code": {"A": "T1"}}}),
		IsActive:    true,
	}
	if err := repo.SaveTaggingRule(context.Background(), rule); err != nil {
		t.Fatalf("SaveTaggingRule: %v", err)
	}

	rules, err := repo.ListTaggingRules(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListTaggingRules: %v", err)
	}
	envelope := ExportRules(company, rules)
	if envelope.CompanyCode != "acme" || len(envelope.Rules) != 1 {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}

	imported := newFakeRepo()
	if err := imported.SaveCompany(context.Background(), company); err != nil {
		t.Fatalf("SaveCompany: %v", err)
	}
	result, err := ImportRules(context.Background(), imported, envelope)
	if err != nil {
		t.Fatalf("ImportRules: %v", err)
	}
	if result.Imported != 1 || len(result.Errors) != 0 {
		t.Fatalf("unexpected import result: %+v", result)
	}

	roundTripped, err := imported.ListTaggingRules(context.Background(), "acme")
	if err != nil {
		t.Fatalf("ListTaggingRules: %v", err)
	}
	if len(roundTripped) != 1 || roundTripped[0].Name != "product-code-mapping" {
		t.Fatalf("round trip produced unexpected rules: %+v", roundTripped)
	}
}

func TestImportRulesCollectsPerRuleErrorsWithoutAborting(t *testing.T) {
	repo := newFakeRepo()
	if err := repo.SaveCompany(context.Background(), &domain.Company{Code: "acme", IsActive: true}); err != nil {
		t.Fatalf("SaveCompany: %v", err)
	}

	envelope := RuleEnvelope{
		CompanyCode: "acme",
		Rules: []RuleEnvelopeRule{
			{Name: "bad-simple", RuleType: domain.RuleTypeSimple, RuleConfig: json.RawMessage(`{}`), IsActive: true},
			{Name: "good-simple", RuleType: domain.RuleTypeSimple, RuleConfig: mustJSON(domain.SimpleRuleConfig{Mappings: map[string]map[string]string{"product_code": {"A": "T1"}}}), IsActive: true},
		},
	}

	result, err := ImportRules(context.Background(), repo, envelope)
	if err != nil {
		t.Fatalf("ImportRules: %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("expected 1 imported rule, got %d", result.Imported)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 collected error, got %v", result.Errors)
	}
}

func TestImportRulesMissingCompanyCode(t *testing.T) {
	repo := newFakeRepo()
	_, err := ImportRules(context.Background(), repo, RuleEnvelope{})
	if err == nil {
		t.Error("expected error for missing company_code")
	}
}

func TestImportRulesUnresolvableCompany(t *testing.T) {
	repo := newFakeRepo()
	_, err := ImportRules(context.Background(), repo, RuleEnvelope{CompanyCode: "ghost"})
	if err == nil {
		t.Error("expected error for unresolvable company")
	}
}

func TestGenerateSampleRulesShape(t *testing.T) {
	samples := GenerateSampleRules()
	if len(samples) != 3 {
		t.Fatalf("expected 3 sample rules, got %d", len(samples))
	}
	types := map[domain.RuleType]bool{}
	for _, s := range samples {
		if s.Name == "" {
			t.Error("sample rule missing name")
		}
		if len(s.RuleConfig) == 0 {
			t.Errorf("sample rule %q missing rule_config", s.Name)
		}
		if err := ValidateRuleConfig(s.RuleType, s.RuleConfig); err != nil {
			t.Errorf("sample rule %q fails validation: %v", s.Name, err)
		}
		types[s.RuleType] = true
	}
	for _, want := range []domain.RuleType{domain.RuleTypeSimple, domain.RuleTypeConditional, domain.RuleTypeCEL} {
		if !types[want] {
			t.Errorf("expected a sample rule of type %q", want)
		}
	}
}
