package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/txntag/autotag/internal/domain"
)

// SimpleProcessor implements the direct field-value mapping family
// (spec §4.1). Config shape: {"mappings": {<field>: {<value>: <tag>}}}.
type SimpleProcessor struct{}

func (SimpleProcessor) Process(_ context.Context, tx *domain.Transaction, metadata map[string]any, config json.RawMessage) (string, bool, error) {
	var cfg domain.SimpleRuleConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return "", false, fmt.Errorf("simple rule config: %w", err)
	}

	fieldOrder, err := orderedObjectKeys(config, "mappings")
	if err != nil {
		return "", false, fmt.Errorf("simple rule config: %w", err)
	}

	txFields := make([]string, 0, len(fieldOrder))
	metaFields := make([]string, 0, len(fieldOrder))
	for _, field := range fieldOrder {
		if isTransactionField(field) {
			txFields = append(txFields, field)
		} else {
			metaFields = append(metaFields, field)
		}
	}

	// Transaction-field mappings are always examined before any
	// metadata mapping, regardless of their declared order relative to
	// each other (spec §4.1).
	for _, field := range append(txFields, metaFields...) {
		valueMap, ok := cfg.Mappings[field]
		if !ok {
			continue
		}
		actual, present := fieldValueFor(tx, metadata, field)
		if !present {
			continue
		}
		if tag, ok := valueMap[stringifySimple(actual)]; ok {
			return tag, true, nil
		}
	}
	return "", false, nil
}

func isTransactionField(field string) bool {
	for _, name := range domain.TransactionFieldNames {
		if field == name {
			return true
		}
	}
	return false
}

func fieldValueFor(tx *domain.Transaction, metadata map[string]any, field string) (any, bool) {
	if isTransactionField(field) {
		if tx == nil {
			return nil, false
		}
		return tx.FieldValue(field)
	}
	v, ok := metadata[field]
	return v, ok
}

// stringifySimple renders a value for simple-mapping lookup per spec
// §4.1: null -> "None", booleans -> "True"/"False", numbers via canonical
// decimal, everything else as its string form.
func stringifySimple(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	default:
		return stringify(v)
	}
}

// orderedObjectKeys recovers the declared key order of a JSON object
// nested under fieldName within raw, since encoding/json's map decoding
// does not preserve order and spec §9 requires the simple processor to
// respect declared mapping order.
func orderedObjectKeys(raw json.RawMessage, fieldName string) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		if key != fieldName {
			if err := skipValue(dec); err != nil {
				return nil, err
			}
			continue
		}
		return objectKeysInOrder(dec)
	}
	return nil, nil
}

func objectKeysInOrder(dec *json.Decoder) ([]string, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		keys = append(keys, key)
		if err := skipValue(dec); err != nil {
			return nil, err
		}
	}
	// consume closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return keys, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// skipValue consumes one complete JSON value (scalar, object, or array)
// from dec without decoding it into anything.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil // scalar already consumed
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		_ = delim
	}
	return nil
}
