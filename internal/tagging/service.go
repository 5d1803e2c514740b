// Package tagging implements the service-layer entry points over the
// rules engine: single and bulk tagging, re-tagging, and statistics
// (spec §4.5).
package tagging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/txntag/autotag/internal/domain"
	"github.com/txntag/autotag/internal/rules"
	"github.com/txntag/autotag/internal/worker"
)

// Service is the public entry point bulk operators and the CLI call into.
type Service struct {
	repo   domain.Repository
	engine *rules.Engine
}

// NewService binds a Service to its repository and engine.
func NewService(repo domain.Repository, engine *rules.Engine) *Service {
	return &Service{repo: repo, engine: engine}
}

// checkMetadataSchema runs the company's optional metadata schema
// pre-check (spec §9) and logs a warning on mismatch without failing the
// tag attempt: a malformed upstream payload should not block tagging, it
// should just be visible in the logs.
func (s *Service) checkMetadataSchema(ctx context.Context, tx *domain.Transaction, company *domain.Company) {
	if len(company.MetadataSchema) == 0 {
		return
	}
	metadata, err := s.repo.GetExternalMetadata(ctx, tx.ID)
	if err != nil || metadata == nil {
		return
	}
	if err := domain.ValidateMetadataAgainstSchema(metadata.Metadata, company.MetadataSchema); err != nil {
		slog.WarnContext(ctx, "transaction metadata failed company schema",
			"transaction_id", tx.ID, "company_code", company.Code, "error", err)
	}
}

// TagOne tags a single transaction for a company, returning the resulting
// tag code or nil if no rule matched (spec §4.5 tag_one).
func (s *Service) TagOne(ctx context.Context, transactionID, companyCode string) (*string, error) {
	company, err := s.repo.GetCompany(ctx, companyCode)
	if err != nil {
		return nil, nil //nolint:nilerr // missing/inactive company yields none, not an error (spec §7)
	}
	if !company.IsActive {
		return nil, nil
	}

	tx, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, nil
	}
	s.checkMetadataSchema(ctx, tx, company)

	tag, err := s.engine.Tag(ctx, tx, company)
	if err != nil {
		return nil, fmt.Errorf("tag %s for %s: %w", transactionID, companyCode, err)
	}
	if tag == nil {
		return nil, nil
	}
	return tag.TagCode, nil
}

// TagMany tags a fixed set of transaction ids for a company. The ids are
// sharded across workerCount goroutines, each processing its disjoint
// slice sequentially in batches of batchSize ids per repository lookup —
// the Go-idiomatic reinterpretation of the original service's
// single-threaded round-robin batching (spec §5: "operators may run
// multiple workers in parallel, each scoped to disjoint transaction id
// ranges"; see DESIGN.md). Missing ids or an inactive/missing company
// simply omit entries from the result; no partial failure aborts the
// batch (spec §4.5, §7).
func (s *Service) TagMany(ctx context.Context, ids []string, companyCode string, batchSize, workerCount int) (map[string]*string, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	company, err := s.repo.GetCompany(ctx, companyCode)
	if err != nil || !company.IsActive {
		return map[string]*string{}, nil
	}

	var mu sync.Mutex
	merged := make(map[string]*string, len(ids))

	pool := worker.NewPool(workerCount)
	pool.Run(ctx, ids, func(ctx context.Context, shard []string) int {
		shardResults := s.tagShardSequentially(ctx, shard, company, batchSize)
		mu.Lock()
		for id, tag := range shardResults {
			merged[id] = tag
		}
		mu.Unlock()
		return len(shardResults)
	})

	return merged, nil
}

// tagShardSequentially processes one worker's disjoint id range: load
// each batchSize-sized slice in one repository lookup, then tag each
// transaction in the slice sequentially (spec §5: no intra-engine
// fan-out).
func (s *Service) tagShardSequentially(ctx context.Context, ids []string, company *domain.Company, batchSize int) map[string]*string {
	out := make(map[string]*string, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		txs, err := s.repo.GetTransactions(ctx, batch)
		if err != nil {
			continue
		}
		for _, tx := range txs {
			s.checkMetadataSchema(ctx, tx, company)
			tag, err := s.engine.Tag(ctx, tx, company)
			if err != nil || tag == nil {
				continue
			}
			out[tx.ID] = tag.TagCode
		}
	}
	return out
}

// RetagCompany reruns tagging for every transaction already owned by a
// company's TransactionTag rows (spec §4.5 retag_company) and returns how
// many were processed.
func (s *Service) RetagCompany(ctx context.Context, companyCode string, batchSize, workerCount int) (int, error) {
	existing, err := s.repo.ListTransactionTagsByCompany(ctx, companyCode)
	if err != nil {
		return 0, fmt.Errorf("list tags for %s: %w", companyCode, err)
	}

	ids := make([]string, 0, len(existing))
	for _, tag := range existing {
		ids = append(ids, tag.TransactionID)
	}

	results, err := s.TagMany(ctx, ids, companyCode, batchSize, workerCount)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Stats is the statistics payload of spec §4.5.
//
// TotalTransactions intentionally counts TransactionTag rows for the
// company (tagged plus explicitly-untagged placeholders), not the global
// transaction universe — this is spec-mandated and preserved as-is even
// though the name suggests otherwise (see DESIGN.md).
type Stats struct {
	TotalTransactions    int               `json:"total_transactions"`
	TaggedTransactions   int               `json:"tagged_transactions"`
	UntaggedTransactions int               `json:"untagged_transactions"`
	TaggingRatePct       float64           `json:"tagging_rate_pct"`
	TopTags              []domain.TagCount `json:"top_tags"`
	ActiveRules          int               `json:"active_rules"`
}

// GetStats computes tagging statistics for a company (spec §4.5 stats).
func (s *Service) GetStats(ctx context.Context, companyCode string) (*Stats, error) {
	total, err := s.repo.CountTransactionTags(ctx, companyCode)
	if err != nil {
		return nil, fmt.Errorf("count tags for %s: %w", companyCode, err)
	}
	tagged, err := s.repo.CountTaggedTransactionTags(ctx, companyCode)
	if err != nil {
		return nil, fmt.Errorf("count tagged for %s: %w", companyCode, err)
	}
	topTags, err := s.repo.TopTagCodes(ctx, companyCode, 10)
	if err != nil {
		return nil, fmt.Errorf("top tags for %s: %w", companyCode, err)
	}
	rules, err := s.repo.ListActiveTaggingRules(ctx, companyCode)
	if err != nil {
		return nil, fmt.Errorf("active rules for %s: %w", companyCode, err)
	}

	rate := 0.0
	if total > 0 {
		rate = float64(tagged) / float64(total) * 100
	}

	return &Stats{
		TotalTransactions:    total,
		TaggedTransactions:   tagged,
		UntaggedTransactions: total - tagged,
		TaggingRatePct:       rate,
		TopTags:              topTags,
		ActiveRules:          len(rules),
	}, nil
}
