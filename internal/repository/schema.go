package repository

// Schema definitions for the autotag database.
// Compatible with both SQLite and PostgreSQL.

const schemaCompanies = `
CREATE TABLE IF NOT EXISTS companies (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    metadata_schema TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_companies_code ON companies(code);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    product_code TEXT NOT NULL,
    produce_rate TEXT NOT NULL,
    ledger_type TEXT NOT NULL,
    source TEXT NOT NULL,
    jurisdiction TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
`

const schemaExternalData = `
CREATE TABLE IF NOT EXISTS external_data (
    transaction_id TEXT PRIMARY KEY,
    metadata TEXT NOT NULL
);
`

const schemaTaggingRules = `
CREATE TABLE IF NOT EXISTS tagging_rules (
    id TEXT NOT NULL,
    company_code TEXT NOT NULL,
    name TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    rule_config TEXT NOT NULL,
    conditions TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id),
    UNIQUE (company_code, name)
);

CREATE INDEX IF NOT EXISTS idx_tagging_rules_company ON tagging_rules(company_code);
CREATE INDEX IF NOT EXISTS idx_tagging_rules_active ON tagging_rules(company_code, is_active, priority);
`

const schemaTransactionTags = `
CREATE TABLE IF NOT EXISTS transaction_tags (
    id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    company_code TEXT NOT NULL,
    tag_code TEXT,
    confidence_score REAL NOT NULL DEFAULT 0,
    is_manual_override INTEGER NOT NULL DEFAULT 0,
    processing_notes TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id),
    UNIQUE (transaction_id, company_code)
);

CREATE INDEX IF NOT EXISTS idx_transaction_tags_company ON transaction_tags(company_code);
CREATE INDEX IF NOT EXISTS idx_transaction_tags_tag ON transaction_tags(company_code, tag_code);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCompanies,
		schemaTransactions,
		schemaExternalData,
		schemaTaggingRules,
		schemaTransactionTags,
	}
}
