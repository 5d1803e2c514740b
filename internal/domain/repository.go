// Package domain defines the core interfaces and entity types for the
// tagging engine.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. All tenant-scoped
// methods take a companyCode for strict multi-tenant isolation.
type Repository interface {
	// Company operations
	SaveCompany(ctx context.Context, company *Company) error
	GetCompany(ctx context.Context, code string) (*Company, error)
	ListCompanies(ctx context.Context) ([]*Company, error)

	// Transaction operations (read-mostly: the engine never mutates a
	// Transaction, but the repository still owns ingestion).
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactions(ctx context.Context, txIDs []string) ([]*Transaction, error)

	// ListTransactions returns up to limit transactions ordered by id,
	// for CLI discovery use (tag-transactions --all, test-rule
	// --sample-size). limit<=0 means no bound.
	ListTransactions(ctx context.Context, limit int) ([]*Transaction, error)

	// External metadata operations
	SaveExternalMetadata(ctx context.Context, meta *ExternalMetadata) error
	GetExternalMetadata(ctx context.Context, txID string) (*ExternalMetadata, error)

	// Tagging rule operations
	SaveTaggingRule(ctx context.Context, rule *TaggingRule) error
	GetTaggingRule(ctx context.Context, companyCode, name string) (*TaggingRule, error)
	ListActiveTaggingRules(ctx context.Context, companyCode string) ([]*TaggingRule, error)
	ListTaggingRules(ctx context.Context, companyCode string) ([]*TaggingRule, error)

	// TransactionTag operations
	UpsertTransactionTag(ctx context.Context, tag *TransactionTag) error
	GetTransactionTag(ctx context.Context, txID, companyCode string) (*TransactionTag, error)
	ListTransactionTagsByCompany(ctx context.Context, companyCode string) ([]*TransactionTag, error)
	CountTransactionTags(ctx context.Context, companyCode string) (int, error)
	CountTaggedTransactionTags(ctx context.Context, companyCode string) (int, error)
	TopTagCodes(ctx context.Context, companyCode string, limit int) ([]TagCount, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TagCount is one entry of a top-tags-by-count listing (spec §4.5 stats).
type TagCount struct {
	TagCode string
	Count   int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
