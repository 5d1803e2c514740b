package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/txntag/autotag/internal/domain"
)

// runTestRule ports test_rule.py: preview one rule's effect against a
// single transaction or a sample, optionally persisting the resulting tag
// (spec §6).
func runTestRule(args []string, cfg *domain.Config) error {
	fs := newFlagSet("test-rule")
	transactionID := fs.String("transaction-id", "", "test against one specific transaction id")
	sampleSize := fs.Int("sample-size", 10, "number of sample transactions to test")
	dryRun := fs.Bool("dry-run", false, "test without saving results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: test-rule <company_code> <rule_name> [--transaction-id id] [--sample-size N] [--dry-run]")
	}
	companyCode, ruleName := fs.Arg(0), fs.Arg(1)

	ctx := context.Background()
	comps, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	company, err := comps.repo.GetCompany(ctx, companyCode)
	if err != nil {
		return fmt.Errorf("company %q not found", companyCode)
	}
	rule, err := comps.repo.GetTaggingRule(ctx, companyCode, ruleName)
	if err != nil {
		return fmt.Errorf("rule %q not found for company %q", ruleName, companyCode)
	}

	fmt.Printf("\nTesting rule: %s\n", rule.Name)
	fmt.Printf("Rule type: %s\n", rule.RuleType)
	fmt.Printf("Priority: %d\n", rule.Priority)
	fmt.Printf("Active: %v\n", rule.IsActive)

	fmt.Println("\nRule configuration:")
	fmt.Println(prettyJSON(rule.RuleConfig))
	if len(rule.Conditions) > 0 {
		fmt.Println("\nRule conditions:")
		fmt.Println(prettyJSON(rule.Conditions))
	}

	var txs []*domain.Transaction
	if *transactionID != "" {
		tx, err := comps.repo.GetTransaction(ctx, *transactionID)
		if err != nil {
			return fmt.Errorf("transaction %s not found", *transactionID)
		}
		txs = []*domain.Transaction{tx}
	} else {
		txs, err = comps.repo.ListTransactions(ctx, *sampleSize)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
	}

	fmt.Printf("\nTesting against %d transaction(s):\n", len(txs))
	fmt.Println(divider())

	matches := 0
	for _, tx := range txs {
		metadata := loadMetadata(ctx, comps, tx.ID)

		tagCode, conditionsMet, matched, err := comps.engine.EvaluateOne(ctx, tx, metadata, rule)
		if err != nil {
			fmt.Printf("\nTransaction %s: ERROR - %s\n", tx.ID, err)
			continue
		}
		if !conditionsMet {
			fmt.Printf("\nTransaction %s: Conditions not met\n", tx.ID)
			continue
		}
		if !matched {
			fmt.Printf("\nTransaction %s: No match\n", tx.ID)
			continue
		}

		matches++
		fmt.Printf("\nTransaction %s: MATCHED -> %s\n", tx.ID, tagCode)
		fmt.Printf("  Product: %s\n", tx.ProductCode)
		fmt.Printf("  Source: %s\n", tx.Source)
		fmt.Printf("  Jurisdiction: %s\n", tx.Jurisdiction)
		fmt.Printf("  Produce rate: %s\n", tx.ProduceRate.String())
		if len(metadata) > 0 {
			fmt.Println("  Metadata:")
			for k, v := range metadata {
				fmt.Printf("    %s: %v\n", k, v)
			}
		}

		if !*dryRun {
			_, getErr := comps.repo.GetTransactionTag(ctx, tx.ID, companyCode)
			created := getErr != nil
			code := tagCode
			if err := comps.repo.UpsertTransactionTag(ctx, &domain.TransactionTag{
				TransactionID:   tx.ID,
				CompanyCode:     company.Code,
				TagCode:         &code,
				ConfidenceScore: 1.0,
				ProcessingNotes: fmt.Sprintf("Tagged by rule %q (test)", ruleName),
			}); err != nil {
				fmt.Printf("  -> failed to save tag: %s\n", err)
				continue
			}
			if created {
				fmt.Println("  -> Tag saved")
			} else {
				fmt.Println("  -> Tag updated")
			}
		}
	}

	fmt.Println(divider())
	fmt.Printf("\nMatches: %d/%d\n", matches, len(txs))
	if *dryRun {
		fmt.Println("\n(Dry run - no changes saved)")
	}
	return nil
}

func loadMetadata(ctx context.Context, comps *components, txID string) map[string]any {
	meta, err := comps.repo.GetExternalMetadata(ctx, txID)
	if err != nil || meta == nil {
		return nil
	}
	return meta.Metadata
}

func prettyJSON(raw json.RawMessage) string {
	var buf interface{}
	if err := json.Unmarshal(raw, &buf); err != nil {
		return string(raw)
	}
	data, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(data)
}

func divider() string {
	out := make([]byte, 60)
	for i := range out {
		out[i] = '-'
	}
	return string(out)
}
