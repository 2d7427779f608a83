package arbitration

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/concordhq/concord/pkg/contracts"
)

// ConditionEvaluator compiles and caches the optional CEL conditions
// attached to veto and escalation rules. Conditions are evaluated against a
// single proposal's attributes; a condition that fails to compile or
// evaluate counts as no-match and is logged, never fatal.
type ConditionEvaluator struct {
	mu       sync.Mutex
	env      *cel.Env
	programs map[string]cel.Program
	logger   *slog.Logger
}

func NewConditionEvaluator(logger *slog.Logger) (*ConditionEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("agent", types.StringType),
			decls.NewVariable("action", types.StringType),
			decls.NewVariable("confidence", types.DoubleType),
			decls.NewVariable("cost", types.DoubleType),
			decls.NewVariable("risk", types.StringType),
			decls.NewVariable("target", types.NewMapType(types.StringType, types.StringType)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &ConditionEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
		logger:   logger,
	}, nil
}

// Match evaluates the condition against the proposal. Empty conditions
// always match (the rule's structural fields alone decide).
func (e *ConditionEvaluator) Match(condition string, p *contracts.Proposal) bool {
	if condition == "" {
		return true
	}
	prg, err := e.program(condition)
	if err != nil {
		e.logger.Warn("veto condition rejected", "condition", condition, "error", err)
		return false
	}

	out, _, err := prg.Eval(map[string]any{
		"agent":      p.AgentName,
		"action":     string(p.ActionType),
		"confidence": p.Confidence,
		"cost":       p.CostEstimate,
		"risk":       string(p.RiskLevel),
		"target": map[string]string{
			"type": p.Target.Type,
			"id":   p.Target.ID,
			"key":  p.Target.Key,
		},
	})
	if err != nil {
		e.logger.Warn("veto condition evaluation failed",
			"condition", condition, "proposal_id", p.ID, "error", err)
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

func (e *ConditionEvaluator) program(condition string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[condition]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.programs[condition] = prg
	return prg, nil
}
