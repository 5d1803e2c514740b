// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/txntag/autotag/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCompany upserts a company by code.
func (r *SQLRepository) SaveCompany(ctx context.Context, company *domain.Company) error {
	if company.Code == "" {
		return fmt.Errorf("%w: code is required", domain.ErrInvalidInput)
	}
	if company.ID == "" {
		company.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if company.CreatedAt.IsZero() {
		company.CreatedAt = now
	}
	company.UpdatedAt = now

	active := 0
	if company.IsActive {
		active = 1
	}

	query := `
		INSERT INTO companies (id, code, name, metadata_schema, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			metadata_schema = excluded.metadata_schema,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		company.ID, company.Code, company.Name, string(company.MetadataSchema),
		active, company.CreatedAt, company.UpdatedAt,
	)
	return err
}

// GetCompany retrieves a company by code.
func (r *SQLRepository) GetCompany(ctx context.Context, code string) (*domain.Company, error) {
	query := `
		SELECT id, code, name, metadata_schema, is_active, created_at, updated_at
		FROM companies WHERE code = ?
	`

	var c domain.Company
	var metadataSchema sql.NullString
	var active int

	err := r.db.QueryRowContext(ctx, r.rebind(query), code).Scan(
		&c.ID, &c.Code, &c.Name, &metadataSchema, &active, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadataSchema.Valid && metadataSchema.String != "" {
		c.MetadataSchema = json.RawMessage(metadataSchema.String)
	}
	c.IsActive = active == 1
	return &c, nil
}

// ListCompanies retrieves all companies.
func (r *SQLRepository) ListCompanies(ctx context.Context) ([]*domain.Company, error) {
	query := `
		SELECT id, code, name, metadata_schema, is_active, created_at, updated_at
		FROM companies ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []*domain.Company
	for rows.Next() {
		var c domain.Company
		var metadataSchema sql.NullString
		var active int

		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &metadataSchema, &active, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if metadataSchema.Valid && metadataSchema.String != "" {
			c.MetadataSchema = json.RawMessage(metadataSchema.String)
		}
		c.IsActive = active == 1
		companies = append(companies, &c)
	}
	return companies, rows.Err()
}

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, product_code, produce_rate, ledger_type, source, jurisdiction, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_code = excluded.product_code,
			produce_rate = excluded.produce_rate,
			ledger_type = excluded.ledger_type,
			source = excluded.source,
			jurisdiction = excluded.jurisdiction
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.ProductCode, tx.ProduceRate.String(), tx.LedgerType, tx.Source, tx.Jurisdiction, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, product_code, produce_rate, ledger_type, source, jurisdiction, created_at
		FROM transactions WHERE id = ?
	`

	var tx domain.Transaction
	var produceRate string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.ProductCode, &produceRate, &tx.LedgerType, &tx.Source, &tx.Jurisdiction, &tx.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rate, err := domain.NewDecimalFromString(produceRate)
	if err != nil {
		return nil, fmt.Errorf("parse produce_rate for %s: %w", txID, err)
	}
	tx.ProduceRate = rate
	return &tx, nil
}

// GetTransactions retrieves multiple transactions by ID in one round trip.
// Missing ids are simply absent from the result (spec §4.5/§7).
func (r *SQLRepository) GetTransactions(ctx context.Context, txIDs []string) ([]*domain.Transaction, error) {
	if len(txIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(txIDs))
	args := make([]any, len(txIDs))
	for i, id := range txIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, product_code, produce_rate, ledger_type, source, jurisdiction, created_at
		FROM transactions WHERE id IN (%s)
	`, strings.Join(placeholders, ", "))

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var produceRate string
		if err := rows.Scan(&tx.ID, &tx.ProductCode, &produceRate, &tx.LedgerType, &tx.Source, &tx.Jurisdiction, &tx.CreatedAt); err != nil {
			return nil, err
		}
		rate, err := domain.NewDecimalFromString(produceRate)
		if err != nil {
			return nil, fmt.Errorf("parse produce_rate for %s: %w", tx.ID, err)
		}
		tx.ProduceRate = rate
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

// ListTransactions returns up to limit transactions ordered by id. A
// non-positive limit returns every row.
func (r *SQLRepository) ListTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	query := `SELECT id, product_code, produce_rate, ledger_type, source, jurisdiction, created_at FROM transactions ORDER BY id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var produceRate string
		if err := rows.Scan(&tx.ID, &tx.ProductCode, &produceRate, &tx.LedgerType, &tx.Source, &tx.Jurisdiction, &tx.CreatedAt); err != nil {
			return nil, err
		}
		rate, err := domain.NewDecimalFromString(produceRate)
		if err != nil {
			return nil, fmt.Errorf("parse produce_rate for %s: %w", tx.ID, err)
		}
		tx.ProduceRate = rate
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

// SaveExternalMetadata upserts a transaction's external metadata.
func (r *SQLRepository) SaveExternalMetadata(ctx context.Context, meta *domain.ExternalMetadata) error {
	data, err := json.Marshal(meta.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", meta.TransactionID, err)
	}

	query := `
		INSERT INTO external_data (transaction_id, metadata)
		VALUES (?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET metadata = excluded.metadata
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), meta.TransactionID, string(data))
	return err
}

// GetExternalMetadata retrieves a transaction's external metadata.
func (r *SQLRepository) GetExternalMetadata(ctx context.Context, txID string) (*domain.ExternalMetadata, error) {
	query := `SELECT transaction_id, metadata FROM external_data WHERE transaction_id = ?`

	var meta domain.ExternalMetadata
	var data string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(&meta.TransactionID, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(data), &meta.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %s: %w", txID, err)
	}
	return &meta, nil
}

// SaveTaggingRule upserts a rule by (company_code, name).
func (r *SQLRepository) SaveTaggingRule(ctx context.Context, rule *domain.TaggingRule) error {
	if rule.CompanyCode == "" || rule.Name == "" {
		return fmt.Errorf("%w: companyCode and name are required", domain.ErrInvalidInput)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	active := 0
	if rule.IsActive {
		active = 1
	}

	query := `
		INSERT INTO tagging_rules (
			id, company_code, name, rule_type, priority, rule_config, conditions, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_code, name) DO UPDATE SET
			rule_type = excluded.rule_type,
			priority = excluded.priority,
			rule_config = excluded.rule_config,
			conditions = excluded.conditions,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.CompanyCode, rule.Name, string(rule.RuleType), rule.Priority,
		string(rule.RuleConfig), string(rule.Conditions), active, rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// GetTaggingRule retrieves a single rule by (company_code, name).
func (r *SQLRepository) GetTaggingRule(ctx context.Context, companyCode, name string) (*domain.TaggingRule, error) {
	query := `
		SELECT id, company_code, name, rule_type, priority, rule_config, conditions, is_active, created_at, updated_at
		FROM tagging_rules WHERE company_code = ? AND name = ?
	`
	return r.scanOneRule(r.db.QueryRowContext(ctx, r.rebind(query), companyCode, name))
}

// ListActiveTaggingRules retrieves active rules ordered by priority
// ascending (spec §4.4 step 1).
func (r *SQLRepository) ListActiveTaggingRules(ctx context.Context, companyCode string) ([]*domain.TaggingRule, error) {
	query := `
		SELECT id, company_code, name, rule_type, priority, rule_config, conditions, is_active, created_at, updated_at
		FROM tagging_rules WHERE company_code = ? AND is_active = 1
		ORDER BY priority ASC, name ASC
	`
	return r.listRules(ctx, query, companyCode)
}

// ListTaggingRules retrieves every rule for a company, active or not
// (spec §4.6 export).
func (r *SQLRepository) ListTaggingRules(ctx context.Context, companyCode string) ([]*domain.TaggingRule, error) {
	query := `
		SELECT id, company_code, name, rule_type, priority, rule_config, conditions, is_active, created_at, updated_at
		FROM tagging_rules WHERE company_code = ?
		ORDER BY priority ASC, name ASC
	`
	return r.listRules(ctx, query, companyCode)
}

func (r *SQLRepository) listRules(ctx context.Context, query, companyCode string) ([]*domain.TaggingRule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), companyCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.TaggingRule
	for rows.Next() {
		rule, err := r.scanRuleRow(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanOneRule(row rowScanner) (*domain.TaggingRule, error) {
	rule, err := r.scanRuleRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

func (r *SQLRepository) scanRuleRow(row rowScanner) (*domain.TaggingRule, error) {
	var rule domain.TaggingRule
	var ruleType string
	var ruleConfig, conditions sql.NullString
	var active int

	if err := row.Scan(
		&rule.ID, &rule.CompanyCode, &rule.Name, &ruleType, &rule.Priority,
		&ruleConfig, &conditions, &active, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.RuleType = domain.RuleType(ruleType)
	if ruleConfig.Valid {
		rule.RuleConfig = json.RawMessage(ruleConfig.String)
	}
	if conditions.Valid && conditions.String != "" {
		rule.Conditions = json.RawMessage(conditions.String)
	}
	rule.IsActive = active == 1
	return &rule, nil
}

// UpsertTransactionTag creates or updates the single TransactionTag row for
// a (transaction, company) pair (spec §4.4 step 6).
func (r *SQLRepository) UpsertTransactionTag(ctx context.Context, tag *domain.TransactionTag) error {
	if tag.ID == "" {
		tag.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = now
	}
	if tag.UpdatedAt.IsZero() {
		tag.UpdatedAt = now
	}

	override := 0
	if tag.IsManualOverride {
		override = 1
	}

	query := `
		INSERT INTO transaction_tags (
			id, transaction_id, company_code, tag_code, confidence_score,
			is_manual_override, processing_notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id, company_code) DO UPDATE SET
			tag_code = excluded.tag_code,
			confidence_score = excluded.confidence_score,
			processing_notes = excluded.processing_notes,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tag.ID, tag.TransactionID, tag.CompanyCode, tag.TagCode, tag.ConfidenceScore,
		override, tag.ProcessingNotes, tag.CreatedAt, tag.UpdatedAt,
	)
	return err
}

// GetTransactionTag retrieves the TransactionTag for a (transaction,
// company) pair, if any.
func (r *SQLRepository) GetTransactionTag(ctx context.Context, txID, companyCode string) (*domain.TransactionTag, error) {
	query := `
		SELECT id, transaction_id, company_code, tag_code, confidence_score,
			   is_manual_override, processing_notes, created_at, updated_at
		FROM transaction_tags WHERE transaction_id = ? AND company_code = ?
	`

	tag, err := r.scanTagRow(r.db.QueryRowContext(ctx, r.rebind(query), txID, companyCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return tag, err
}

// ListTransactionTagsByCompany retrieves every TransactionTag row owned by
// a company (spec §4.5 retag_company).
func (r *SQLRepository) ListTransactionTagsByCompany(ctx context.Context, companyCode string) ([]*domain.TransactionTag, error) {
	query := `
		SELECT id, transaction_id, company_code, tag_code, confidence_score,
			   is_manual_override, processing_notes, created_at, updated_at
		FROM transaction_tags WHERE company_code = ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), companyCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []*domain.TransactionTag
	for rows.Next() {
		tag, err := r.scanTagRow(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// CountTransactionTags counts all TransactionTag rows for a company (spec
// §4.5 stats total_transactions; see DESIGN.md for the naming quirk).
func (r *SQLRepository) CountTransactionTags(ctx context.Context, companyCode string) (int, error) {
	query := `SELECT COUNT(*) FROM transaction_tags WHERE company_code = ?`
	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), companyCode).Scan(&count)
	return count, err
}

// CountTaggedTransactionTags counts TransactionTag rows with a non-null
// tag_code for a company.
func (r *SQLRepository) CountTaggedTransactionTags(ctx context.Context, companyCode string) (int, error) {
	query := `SELECT COUNT(*) FROM transaction_tags WHERE company_code = ? AND tag_code IS NOT NULL`
	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), companyCode).Scan(&count)
	return count, err
}

// TopTagCodes returns the most frequent tag codes for a company, most
// frequent first, capped at limit.
func (r *SQLRepository) TopTagCodes(ctx context.Context, companyCode string, limit int) ([]domain.TagCount, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT tag_code, COUNT(*) AS n
		FROM transaction_tags
		WHERE company_code = ? AND tag_code IS NOT NULL
		GROUP BY tag_code
		ORDER BY n DESC, tag_code ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), companyCode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []domain.TagCount
	for rows.Next() {
		var tc domain.TagCount
		if err := rows.Scan(&tc.TagCode, &tc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, tc)
	}
	return counts, rows.Err()
}

func (r *SQLRepository) scanTagRow(row rowScanner) (*domain.TransactionTag, error) {
	var tag domain.TransactionTag
	var tagCode sql.NullString
	var override int

	if err := row.Scan(
		&tag.ID, &tag.TransactionID, &tag.CompanyCode, &tagCode, &tag.ConfidenceScore,
		&override, &tag.ProcessingNotes, &tag.CreatedAt, &tag.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if tagCode.Valid {
		code := tagCode.String
		tag.TagCode = &code
	}
	tag.IsManualOverride = override == 1
	return &tag, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
