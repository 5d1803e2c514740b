package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/txntag/autotag/internal/domain"
)

// legacyScriptMarkers are the imperative-language tokens that cause a
// `script` config to be rejected outright rather than compiled as CEL
// (spec §4.3).
var legacyScriptMarkers = []string{"def ", "return"}

// CELProcessor implements the sandboxed expression family (spec §4.3),
// serving both rule_type "cel" and its legacy alias "script". One
// instance is shared per process; expressions are compiled lazily and
// cached by expression text, matching spec §9's guidance for CEL
// processor instances.
type CELProcessor struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[string]cel.Program

	logger SecurityLogger
}

// NewCELProcessor builds the CEL environment with exactly the variables
// spec §4.3 requires: transaction, metadata, now. No other host API is
// exposed; CEL's non-Turing-complete evaluation model is the sandbox.
func NewCELProcessor(logger SecurityLogger) (*CELProcessor, error) {
	env, err := cel.NewEnv(
		cel.Variable("transaction", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELProcessor{
		env:    env,
		cache:  make(map[string]cel.Program),
		logger: logger,
	}, nil
}

// Process dispatches in the original rule_engine.py order: an explicit
// `expression` wins outright, then `conditions`, and only when neither is
// present does a legacy `script` field get a chance — parsed as a plain
// CEL expression if it looks like one, rejected as unsupported Python
// otherwise (spec §4.3).
func (p *CELProcessor) Process(ctx context.Context, tx *domain.Transaction, metadata map[string]any, config json.RawMessage) (string, bool, error) {
	var cfg domain.CELRuleConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return "", false, fmt.Errorf("cel rule config: %w", err)
	}

	activation := map[string]any{
		"transaction": transactionActivation(tx),
		"metadata":    metadataActivation(metadata),
		"now":         time.Now().UTC().Format(time.RFC3339),
	}

	switch {
	case cfg.Expression != "":
		return p.evaluateSingleExpression(ctx, cfg.Expression, cfg.DefaultTag, activation)
	case len(cfg.Conditions) > 0:
		return p.evaluateConditions(ctx, cfg, activation)
	case cfg.Script != "":
		if containsLegacyMarker(cfg.Script) {
			p.logEvent(ctx, SecurityEvent{
				EventType: "legacy_python_script",
				Detail:    cfg.Script,
			})
			return "", false, nil
		}
		return p.evaluateSingleExpression(ctx, cfg.Script, cfg.DefaultTag, activation)
	}
	return defaultString(cfg.DefaultTag)
}

func (p *CELProcessor) evaluateSingleExpression(ctx context.Context, expression string, defaultTag *string, activation map[string]any) (string, bool, error) {
	if expression == "" {
		return defaultString(defaultTag)
	}
	program, err := p.compile(expression)
	if err != nil {
		p.logEvent(ctx, SecurityEvent{EventType: "cel_evaluation_error", Expression: expression, Detail: err.Error()})
		return defaultString(defaultTag)
	}
	out, _, err := program.Eval(activation)
	if err != nil {
		p.logEvent(ctx, SecurityEvent{EventType: "cel_evaluation_error", Expression: expression, Detail: err.Error()})
		return defaultString(defaultTag)
	}
	s, ok := out.Value().(string)
	if !ok || s == "" {
		return defaultString(defaultTag)
	}
	return s, true, nil
}

func (p *CELProcessor) evaluateConditions(ctx context.Context, cfg domain.CELRuleConfig, activation map[string]any) (string, bool, error) {
	for _, cond := range cfg.Conditions {
		if cond.Expression == "" || cond.Tag == "" {
			continue
		}
		program, err := p.compile(cond.Expression)
		if err != nil {
			p.logEvent(ctx, SecurityEvent{EventType: "cel_condition_error", Expression: cond.Expression, Detail: err.Error()})
			continue
		}
		out, _, err := program.Eval(activation)
		if err != nil {
			p.logEvent(ctx, SecurityEvent{EventType: "cel_condition_error", Expression: cond.Expression, Detail: err.Error()})
			continue
		}
		if truthy, ok := out.Value().(bool); ok && truthy {
			return cond.Tag, true, nil
		}
	}
	return defaultString(cfg.DefaultTag)
}

func (p *CELProcessor) compile(expression string) (cel.Program, error) {
	p.mu.Lock()
	if program, ok := p.cache[expression]; ok {
		p.mu.Unlock()
		return program, nil
	}
	p.mu.Unlock()

	ast, issues := p.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, issues.Err())
	}
	program, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expression, err)
	}

	p.mu.Lock()
	p.cache[expression] = program
	p.mu.Unlock()
	return program, nil
}

func (p *CELProcessor) logEvent(ctx context.Context, evt SecurityEvent) {
	if p.logger != nil {
		p.logger.LogSecurityEvent(ctx, evt)
	}
}

func defaultString(defaultTag *string) (string, bool, error) {
	if defaultTag == nil || *defaultTag == "" {
		return "", false, nil
	}
	return *defaultTag, true, nil
}

func containsLegacyMarker(script string) bool {
	for _, marker := range legacyScriptMarkers {
		if strings.Contains(script, marker) {
			return true
		}
	}
	return false
}

func transactionActivation(tx *domain.Transaction) map[string]any {
	if tx == nil {
		return map[string]any{}
	}
	return map[string]any{
		"product_code": tx.ProductCode,
		"produce_rate": tx.ProduceRate.Float64(),
		"ledger_type":  tx.LedgerType,
		"source":       tx.Source,
		"jurisdiction": tx.Jurisdiction,
		"created_at":   tx.CreatedAt.Format(time.RFC3339),
	}
}

func metadataActivation(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	return metadata
}
