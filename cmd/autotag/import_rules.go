package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/txntag/autotag/internal/domain"
	"github.com/txntag/autotag/internal/rules"
)

// runImportRules ports import_rules.py's two modes: generating a sample
// rules file, or importing one (optionally creating the company first).
func runImportRules(args []string, cfg *domain.Config) error {
	fs := newFlagSet("import-rules")
	createCompany := fs.Bool("create-company", false, "create the company if it does not exist")
	generateSample := fs.Bool("generate-sample", false, "write a sample rules file instead of importing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: import-rules <file_path> [--create-company] [--generate-sample]")
	}
	filePath := fs.Arg(0)

	if *generateSample {
		return writeSampleRulesFile(filePath)
	}

	ctx := context.Background()
	comps, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", filePath, err)
	}

	var envelope rules.RuleEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("invalid JSON in %s: %w", filePath, err)
	}
	if envelope.CompanyCode == "" {
		return fmt.Errorf("%s must contain company_code", filePath)
	}

	if *createCompany {
		if _, err := comps.repo.GetCompany(ctx, envelope.CompanyCode); err != nil {
			name := envelope.CompanyName
			if name == "" {
				name = envelope.CompanyCode
			}
			if err := comps.repo.SaveCompany(ctx, &domain.Company{
				Code: envelope.CompanyCode, Name: name, IsActive: true,
			}); err != nil {
				return fmt.Errorf("create company %s: %w", envelope.CompanyCode, err)
			}
			fmt.Printf("Created company: %s (%s)\n", name, envelope.CompanyCode)
		}
	}

	fmt.Printf("Importing rules for company: %s\n", envelope.CompanyCode)
	result, err := rules.ImportRules(ctx, comps.repo, envelope)
	if err != nil {
		return err
	}

	fmt.Printf("Successfully imported %d rules\n", result.Imported)
	if len(result.Errors) > 0 {
		fmt.Println("\nErrors encountered:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	if err := comps.engine.InvalidateRuleCache(ctx, envelope.CompanyCode); err != nil {
		fmt.Printf("warning: failed to invalidate rule cache for %s: %s\n", envelope.CompanyCode, err)
	}
	if err := comps.bus.Publish(ctx, envelope.CompanyCode, domain.TopicRuleSetChanged, []byte(envelope.CompanyCode)); err != nil {
		fmt.Printf("warning: failed to publish rule-set-changed event for %s: %s\n", envelope.CompanyCode, err)
	}

	all, err := comps.repo.ListTaggingRules(ctx, envelope.CompanyCode)
	if err != nil {
		return fmt.Errorf("list rules for %s: %w", envelope.CompanyCode, err)
	}
	active, err := comps.repo.ListActiveTaggingRules(ctx, envelope.CompanyCode)
	if err != nil {
		return fmt.Errorf("list active rules for %s: %w", envelope.CompanyCode, err)
	}
	fmt.Printf("\nCompany '%s' now has:\n", envelope.CompanyCode)
	fmt.Printf("  Total rules: %d\n", len(all))
	fmt.Printf("  Active rules: %d\n", len(active))
	return nil
}

func writeSampleRulesFile(filePath string) error {
	envelope := rules.RuleEnvelope{
		CompanyCode: "SAMPLE_CO",
		CompanyName: "Sample Company",
		Rules:       rules.GenerateSampleRules(),
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sample rules: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filePath, err)
	}

	fmt.Printf("Sample rules file created at: %s\n", filePath)
	fmt.Println("\nSample contains:")
	for _, r := range envelope.Rules {
		fmt.Printf("  - %s (%s)\n", r.Name, r.RuleType)
	}
	return nil
}
