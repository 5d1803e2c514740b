package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/txntag/autotag/internal/domain"
)

// transactionIDList is a flag.Value collecting repeated --transaction-ids
// entries, the Go idiom for the Python command's `nargs='+'` option.
type transactionIDList struct {
	ids []string
}

func (l *transactionIDList) String() string { return strings.Join(l.ids, ",") }

func (l *transactionIDList) Set(value string) error {
	l.ids = append(l.ids, strings.Split(value, ",")...)
	return nil
}

// runTagTransactions ports tag_transactions.py: tag a fixed id list, tag
// every untagged transaction, or retag everything already tagged for the
// company, then print the resulting statistics (spec §6, §4.5).
func runTagTransactions(args []string, cfg *domain.Config) error {
	fs := newFlagSet("tag-transactions")
	var txIDs transactionIDList
	fs.Var(&txIDs, "transaction-ids", "comma-separated or repeated transaction ids to tag")
	tagAll := fs.Bool("all", false, "tag every transaction not yet tagged for this company")
	retag := fs.Bool("retag", false, "re-tag transactions already tagged for this company")
	batchSize := fs.Int("batch-size", cfg.Tagging.DefaultBatchSize, "batch size for repository lookups")
	workers := fs.Int("workers", cfg.Tagging.DefaultWorkerCount, "worker goroutines to shard ids across")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: tag-transactions <company_code> [--transaction-ids id...] [--all] [--retag] [--batch-size N] [--workers N]")
	}
	companyCode := fs.Arg(0)

	modes := 0
	for _, set := range []bool{len(txIDs.ids) > 0, *tagAll, *retag} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return fmt.Errorf("specify only one of --transaction-ids, --all, or --retag")
	}

	ctx := context.Background()
	comps, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	fmt.Printf("Starting tagging process for company: %s\n", companyCode)
	start := time.Now()

	switch {
	case *retag:
		count, err := comps.service.RetagCompany(ctx, companyCode, *batchSize, *workers)
		if err != nil {
			return fmt.Errorf("retag company %s: %w", companyCode, err)
		}
		fmt.Printf("Re-tagged %d transactions\n", count)

	case len(txIDs.ids) > 0:
		results, err := comps.service.TagMany(ctx, txIDs.ids, companyCode, *batchSize, *workers)
		if err != nil {
			return fmt.Errorf("tag transactions for %s: %w", companyCode, err)
		}
		printTagResults(txIDs.ids, results)

	case *tagAll:
		ids, err := untaggedTransactionIDs(ctx, comps, companyCode)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No untagged transactions found")
			break
		}
		results, err := comps.service.TagMany(ctx, ids, companyCode, *batchSize, *workers)
		if err != nil {
			return fmt.Errorf("tag transactions for %s: %w", companyCode, err)
		}
		printTagResults(ids, results)

	default:
		return fmt.Errorf("please specify --transaction-ids, --all, or --retag")
	}

	stats, err := comps.service.GetStats(ctx, companyCode)
	if err != nil {
		return fmt.Errorf("get stats for %s: %w", companyCode, err)
	}
	fmt.Println("\nTagging Statistics:")
	fmt.Printf("  Total transactions: %d\n", stats.TotalTransactions)
	fmt.Printf("  Tagged: %d\n", stats.TaggedTransactions)
	fmt.Printf("  Untagged: %d\n", stats.UntaggedTransactions)
	fmt.Printf("  Tagging rate: %.1f%%\n", stats.TaggingRatePct)
	if len(stats.TopTags) > 0 {
		fmt.Println("\n  Top tags:")
		for _, tc := range stats.TopTags {
			fmt.Printf("    %s: %d\n", tc.TagCode, tc.Count)
		}
	}

	fmt.Printf("\nCompleted in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func printTagResults(ids []string, results map[string]*string) {
	successCount := 0
	for _, tag := range results {
		if tag != nil {
			successCount++
		}
	}
	fmt.Printf("Tagged %d/%d transactions\n", successCount, len(ids))
	for _, id := range ids {
		tag, ok := results[id]
		if ok && tag != nil {
			fmt.Printf("  Transaction %s: %s\n", id, *tag)
		} else {
			fmt.Printf("  Transaction %s: No tag assigned\n", id)
		}
	}
}

// untaggedTransactionIDs lists every stored transaction id that has no
// TransactionTag row yet for this company (tag_transactions.py --all).
func untaggedTransactionIDs(ctx context.Context, comps *components, companyCode string) ([]string, error) {
	company, err := comps.repo.GetCompany(ctx, companyCode)
	if err != nil || !company.IsActive {
		return nil, fmt.Errorf("company %q not found or inactive", companyCode)
	}

	tagged, err := comps.repo.ListTransactionTagsByCompany(ctx, companyCode)
	if err != nil {
		return nil, fmt.Errorf("list existing tags for %s: %w", companyCode, err)
	}
	alreadyTagged := make(map[string]bool, len(tagged))
	for _, t := range tagged {
		alreadyTagged[t.TransactionID] = true
	}

	all, err := comps.repo.ListTransactions(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	ids := make([]string, 0, len(all))
	for _, tx := range all {
		if !alreadyTagged[tx.ID] {
			ids = append(ids, tx.ID)
		}
	}
	return ids, nil
}
