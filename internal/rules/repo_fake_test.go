package rules

import (
	"context"
	"sort"

	"github.com/txntag/autotag/internal/domain"
)

// fakeRepo is a minimal in-memory domain.Repository used to exercise the
// engine without a real database connection.
type fakeRepo struct {
	companies map[string]*domain.Company
	txs       map[string]*domain.Transaction
	metadata  map[string]*domain.ExternalMetadata
	rules     map[string][]*domain.TaggingRule // by company code
	tags      map[string]*domain.TransactionTag // by txID+"/"+companyCode
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		companies: map[string]*domain.Company{},
		txs:       map[string]*domain.Transaction{},
		metadata:  map[string]*domain.ExternalMetadata{},
		rules:     map[string][]*domain.TaggingRule{},
		tags:      map[string]*domain.TransactionTag{},
	}
}

func (r *fakeRepo) SaveCompany(ctx context.Context, c *domain.Company) error {
	r.companies[c.Code] = c
	return nil
}

func (r *fakeRepo) GetCompany(ctx context.Context, code string) (*domain.Company, error) {
	c, ok := r.companies[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (r *fakeRepo) ListCompanies(ctx context.Context) ([]*domain.Company, error) {
	out := make([]*domain.Company, 0, len(r.companies))
	for _, c := range r.companies {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeRepo) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.txs[tx.ID] = tx
	return nil
}

func (r *fakeRepo) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	tx, ok := r.txs[txID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return tx, nil
}

func (r *fakeRepo) GetTransactions(ctx context.Context, txIDs []string) ([]*domain.Transaction, error) {
	out := make([]*domain.Transaction, 0, len(txIDs))
	for _, id := range txIDs {
		if tx, ok := r.txs[id]; ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	ids := make([]string, 0, len(r.txs))
	for id := range r.txs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*domain.Transaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.txs[id])
	}
	return out, nil
}

func (r *fakeRepo) SaveExternalMetadata(ctx context.Context, meta *domain.ExternalMetadata) error {
	r.metadata[meta.TransactionID] = meta
	return nil
}

func (r *fakeRepo) GetExternalMetadata(ctx context.Context, txID string) (*domain.ExternalMetadata, error) {
	m, ok := r.metadata[txID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func (r *fakeRepo) SaveTaggingRule(ctx context.Context, rule *domain.TaggingRule) error {
	rules := r.rules[rule.CompanyCode]
	for i, existing := range rules {
		if existing.Name == rule.Name {
			rules[i] = rule
			return nil
		}
	}
	r.rules[rule.CompanyCode] = append(rules, rule)
	return nil
}

func (r *fakeRepo) GetTaggingRule(ctx context.Context, companyCode, name string) (*domain.TaggingRule, error) {
	for _, rule := range r.rules[companyCode] {
		if rule.Name == name {
			return rule, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeRepo) ListActiveTaggingRules(ctx context.Context, companyCode string) ([]*domain.TaggingRule, error) {
	var out []*domain.TaggingRule
	for _, rule := range r.rules[companyCode] {
		if rule.IsActive {
			out = append(out, rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *fakeRepo) ListTaggingRules(ctx context.Context, companyCode string) ([]*domain.TaggingRule, error) {
	return r.rules[companyCode], nil
}

func (r *fakeRepo) UpsertTransactionTag(ctx context.Context, tag *domain.TransactionTag) error {
	r.tags[tag.TransactionID+"/"+tag.CompanyCode] = tag
	return nil
}

func (r *fakeRepo) GetTransactionTag(ctx context.Context, txID, companyCode string) (*domain.TransactionTag, error) {
	tag, ok := r.tags[txID+"/"+companyCode]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return tag, nil
}

func (r *fakeRepo) ListTransactionTagsByCompany(ctx context.Context, companyCode string) ([]*domain.TransactionTag, error) {
	var out []*domain.TransactionTag
	for _, tag := range r.tags {
		if tag.CompanyCode == companyCode {
			out = append(out, tag)
		}
	}
	return out, nil
}

func (r *fakeRepo) CountTransactionTags(ctx context.Context, companyCode string) (int, error) {
	tags, _ := r.ListTransactionTagsByCompany(ctx, companyCode)
	return len(tags), nil
}

func (r *fakeRepo) CountTaggedTransactionTags(ctx context.Context, companyCode string) (int, error) {
	tags, _ := r.ListTransactionTagsByCompany(ctx, companyCode)
	n := 0
	for _, tag := range tags {
		if tag.TagCode != nil {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) TopTagCodes(ctx context.Context, companyCode string, limit int) ([]domain.TagCount, error) {
	counts := map[string]int{}
	tags, _ := r.ListTransactionTagsByCompany(ctx, companyCode)
	for _, tag := range tags {
		if tag.TagCode != nil {
			counts[*tag.TagCode]++
		}
	}
	out := make([]domain.TagCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, domain.TagCount{TagCode: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) Ping(ctx context.Context) error { return nil }
func (r *fakeRepo) Close() error                   { return nil }

// noopSecurityLogger discards security events; most tests don't assert on
// the security channel.
type noopSecurityLogger struct{}

func (noopSecurityLogger) LogSecurityEvent(ctx context.Context, evt SecurityEvent) {}
