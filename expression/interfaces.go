// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package expression

import (
	"context"
	"fmt"
)

// Evaluator evaluates boolean transition conditions and data default values
// against a context of process variables.
type Evaluator interface {
	// Evaluate returns the value of one expression.
	Evaluate(ctx context.Context, expr string, variables map[string]interface{}) (interface{}, error)
	// EvaluateAll returns the values of the expressions in order, failing on
	// the first evaluation error.
	EvaluateAll(ctx context.Context, exprs []string, variables map[string]interface{}) ([]interface{}, error)
	// EvaluateBool evaluates an expression and coerces the result to bool.
	EvaluateBool(ctx context.Context, expr string, variables map[string]interface{}) (bool, error)
}

// EvaluationError carries the offending expression.
type EvaluationError struct {
	Expression string
	Cause      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating expression %q: %v", e.Expression, e.Cause)
}

func (e *EvaluationError) Unwrap() error {
	return e.Cause
}
