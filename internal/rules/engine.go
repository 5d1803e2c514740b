package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/txntag/autotag/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("autotag-engine")

// ruleCacheKey is the per-company cache key a rule cache stores a
// company's active rule set under (spec §9 item 9).
const ruleCacheKey = "active_rules"

// ruleCacheTTL bounds how long a cached rule set is trusted before the
// next Tag call re-reads the repository, the ceiling on the "concurrent
// observers may see pre- or post-edit rule version" staleness window
// spec §5 accepts.
const ruleCacheTTL = 30 * time.Second

// Engine loads a company's active rules and tags transactions against
// them (spec §4.4). Processors are stateless aside from the CEL
// environment/expression cache; one Engine instance is shared per process.
type Engine struct {
	processors            map[domain.RuleType]Processor
	repo                  domain.Repository
	cache                 domain.Cache
	respectManualOverride bool
}

// NewEngine wires the processor dispatch table (spec §9 "closed variant
// set with a dispatch table") and binds the repository used to load rules
// and persist tags. respectManualOverride controls the open-question
// behavior documented in DESIGN.md. cache is optional: a nil cache simply
// means every Tag call reads the repository directly.
func NewEngine(repo domain.Repository, logger SecurityLogger, respectManualOverride bool, cache domain.Cache) (*Engine, error) {
	celProcessor, err := NewCELProcessor(logger)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	return &Engine{
		repo:                  repo,
		cache:                 cache,
		respectManualOverride: respectManualOverride,
		processors: map[domain.RuleType]Processor{
			domain.RuleTypeSimple:      SimpleProcessor{},
			domain.RuleTypeConditional: ConditionalProcessor{},
			domain.RuleTypeCEL:         celProcessor,
			domain.RuleTypeScript:      celProcessor,
			domain.RuleTypeML:          MLProcessor{},
		},
	}, nil
}

// earlyExitPriority and earlyExitConfidence implement spec §4.4 step 4e:
// a rule with priority below this threshold and confidence above this
// threshold stops further rule evaluation.
const (
	earlyExitPriority   = 50
	earlyExitConfidence = 0.9
)

// stockConfidence is the confidence every processor currently yields
// (spec §9: "confidence is currently always 1.0").
const stockConfidence = 1.0

// Tag runs the full orchestration algorithm of spec §4.4 for one
// (transaction, company) pair and returns the winning tag, if any.
func (e *Engine) Tag(ctx context.Context, tx *domain.Transaction, company *domain.Company) (*domain.TransactionTag, error) {
	ctx, span := tracer.Start(ctx, "rules.Tag", trace.WithAttributes(
		attribute.String("company.code", company.Code),
		attribute.String("transaction.id", tx.ID),
	))
	defer span.End()

	if !company.IsActive {
		return nil, fmt.Errorf("company %s: %w", company.Code, domain.ErrInactive)
	}

	metadata, err := e.loadMetadata(ctx, tx.ID)
	if err != nil {
		return nil, err
	}

	rules, err := e.loadActiveRules(ctx, company.Code)
	if err != nil {
		return nil, fmt.Errorf("load rules for %s: %w", company.Code, err)
	}

	var (
		bestTag        string
		bestConfidence float64
		notes          []string
	)

	for _, rule := range rules {
		passed, err := EvaluateGuard(tx, metadata, rule.Conditions)
		if err != nil {
			notes = append(notes, fmt.Sprintf("Rule '%s' failed: %s", rule.Name, err))
			continue
		}
		if !passed {
			continue
		}

		processor, ok := e.processors[rule.RuleType]
		if !ok {
			continue
		}

		tagCode, matched, err := processor.Process(ctx, tx, metadata, rule.RuleConfig)
		if err != nil {
			notes = append(notes, fmt.Sprintf("Rule '%s' failed: %s", rule.Name, err))
			continue
		}
		if !matched || tagCode == "" {
			continue
		}

		confidence := stockConfidence
		if confidence > bestConfidence {
			bestTag = tagCode
			bestConfidence = confidence
		}
		notes = append(notes, fmt.Sprintf("Rule '%s' matched: %s", rule.Name, tagCode))

		if rule.Priority < earlyExitPriority && confidence > earlyExitConfidence {
			break
		}
	}

	if bestTag == "" {
		return nil, nil
	}

	tag := &domain.TransactionTag{
		TransactionID:   tx.ID,
		CompanyCode:     company.Code,
		TagCode:         &bestTag,
		ConfidenceScore: bestConfidence,
		ProcessingNotes: strings.Join(notes, "\n"),
		UpdatedAt:       time.Now().UTC(),
	}

	if err := e.upsertTag(ctx, tag); err != nil {
		return nil, err
	}
	return tag, nil
}

// upsertTag persists the winning tag. Whether a pre-existing
// is_manual_override row is respected is a configuration point (spec §9
// open question; see DESIGN.md); the default, inherited behavior is to
// overwrite unconditionally.
func (e *Engine) upsertTag(ctx context.Context, tag *domain.TransactionTag) error {
	existing, err := e.repo.GetTransactionTag(ctx, tag.TransactionID, tag.CompanyCode)
	if err == nil && existing != nil {
		if e.respectManualOverride && existing.IsManualOverride {
			return nil
		}
		tag.ID = existing.ID
		tag.CreatedAt = existing.CreatedAt
	}
	return e.repo.UpsertTransactionTag(ctx, tag)
}

// EvaluateOne runs a single rule against one (transaction, metadata) pair
// without touching the repository: it checks the rule's guard conditions,
// then invokes the matching processor if the guard passes. Used by the
// `test-rule` CLI subcommand (spec §6) to preview a rule's effect before
// trusting it in the full Tag orchestration.
func (e *Engine) EvaluateOne(ctx context.Context, tx *domain.Transaction, metadata map[string]any, rule *domain.TaggingRule) (tagCode string, conditionsMet bool, matched bool, err error) {
	conditionsMet, err = EvaluateGuard(tx, metadata, rule.Conditions)
	if err != nil || !conditionsMet {
		return "", conditionsMet, false, err
	}

	processor, ok := e.processors[rule.RuleType]
	if !ok {
		return "", true, false, fmt.Errorf("no processor registered for rule type %q", rule.RuleType)
	}

	tagCode, matched, err = processor.Process(ctx, tx, metadata, rule.RuleConfig)
	return tagCode, true, matched, err
}

// loadActiveRules returns a company's active rule set, preferring the
// cache (spec §9 item 9: "avoids a repository round trip on every tag()
// call") and falling back to, then repopulating from, the repository on
// a cache miss or cache error.
func (e *Engine) loadActiveRules(ctx context.Context, companyCode string) ([]*domain.TaggingRule, error) {
	if e.cache != nil {
		if cached, err := e.cache.Get(ctx, companyCode, ruleCacheKey); err == nil && cached != nil {
			var rules []*domain.TaggingRule
			if err := json.Unmarshal(cached, &rules); err == nil {
				return rules, nil
			}
		}
	}

	rules, err := e.repo.ListActiveTaggingRules(ctx, companyCode)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if encoded, err := json.Marshal(rules); err == nil {
			_ = e.cache.Set(ctx, companyCode, ruleCacheKey, encoded, ruleCacheTTL)
		}
	}
	return rules, nil
}

// InvalidateRuleCache drops a company's cached active rule set. The
// import-rules command calls it directly after a successful import;
// nothing in this module calls it on receipt of a RuleSetChanged event.
// A no-op when the engine has no cache.
func (e *Engine) InvalidateRuleCache(ctx context.Context, companyCode string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Delete(ctx, companyCode, ruleCacheKey)
}

func (e *Engine) loadMetadata(ctx context.Context, txID string) (map[string]any, error) {
	meta, err := e.repo.GetExternalMetadata(ctx, txID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("load metadata for %s: %w", txID, err)
	}
	if meta == nil || meta.Metadata == nil {
		return map[string]any{}, nil
	}
	return meta.Metadata, nil
}
