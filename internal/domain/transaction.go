package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Transaction is the external, immutable record the engine tags. The engine
// never mutates a Transaction; it only reads it and the ExternalMetadata
// associated with it.
type Transaction struct {
	ID           string    `json:"id"`
	ProductCode  string    `json:"productCode"`
	ProduceRate  Decimal   `json:"produceRate"`
	LedgerType   string    `json:"ledgerType"`
	Source       string    `json:"source"`
	Jurisdiction string    `json:"jurisdiction"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ExternalMetadata is the opaque per-transaction JSON map supplied by
// upstream systems. Absence is treated as an empty map everywhere in the
// engine (spec §3).
type ExternalMetadata struct {
	TransactionID string         `json:"transactionId"`
	Metadata      map[string]any `json:"metadata"`
}

// FieldValue returns the value of a recognized transaction attribute and
// whether that attribute name is recognized at all. Only the fields named
// in spec §4.1/§4.2 are transaction fields; anything else is looked up in
// metadata instead.
func (t *Transaction) FieldValue(field string) (any, bool) {
	switch field {
	case "product_code":
		return t.ProductCode, true
	case "produce_rate":
		return t.ProduceRate.Float64(), true
	case "ledger_type":
		return t.LedgerType, true
	case "source":
		return t.Source, true
	case "jurisdiction":
		return t.Jurisdiction, true
	case "created_at":
		return t.CreatedAt.Format(time.RFC3339), true
	default:
		return nil, false
	}
}

// TransactionFieldNames lists the transaction attributes the simple
// processor checks before falling back to metadata (spec §4.1).
var TransactionFieldNames = []string{"product_code", "source", "jurisdiction", "ledger_type"}

// Decimal is a fixed-point decimal value backed by math/big.Rat. No
// decimal/money library appears anywhere in the reference corpus this
// module was grounded on, so this is a deliberate standard-library choice
// (see DESIGN.md).
type Decimal struct {
	rat *big.Rat
}

// NewDecimalFromString parses a base-10 decimal string into a Decimal.
func NewDecimalFromString(s string) (Decimal, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Decimal{}, fmt.Errorf("invalid decimal literal %q", s)
	}
	return Decimal{rat: r}, nil
}

// NewDecimalFromFloat builds a Decimal from a float64.
func NewDecimalFromFloat(f float64) Decimal {
	return Decimal{rat: new(big.Rat).SetFloat64(f)}
}

// Float64 returns the nearest float64 representation, used when binding
// into the CEL evaluation context (spec §4.3 requires produce_rate as a
// double).
func (d Decimal) Float64() float64 {
	if d.rat == nil {
		return 0
	}
	f, _ := d.rat.Float64()
	return f
}

// String renders the decimal in canonical base-10 form.
func (d Decimal) String() string {
	if d.rat == nil {
		return "0"
	}
	return d.rat.FloatString(10)
}

// MarshalJSON renders the decimal as a JSON number.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := NewDecimalFromString(v)
		if err != nil {
			return err
		}
		*d = parsed
	case float64:
		*d = NewDecimalFromFloat(v)
	case nil:
		*d = Decimal{}
	default:
		return fmt.Errorf("unsupported decimal JSON type %T", raw)
	}
	return nil
}
