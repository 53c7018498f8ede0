// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package expression

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
)

// dangerous globals that must never leak into condition scripts
var restrictedGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
}

// JSEvaluator evaluates JavaScript expressions in a restricted goja runtime.
// A fresh runtime is built per evaluation so scripts cannot observe each
// other's state; expressions are expected to be small.
type JSEvaluator struct{}

var _ Evaluator = (*JSEvaluator)(nil)

func NewJSEvaluator() *JSEvaluator {
	return &JSEvaluator{}
}

func (e *JSEvaluator) Evaluate(_ context.Context, expr string, variables map[string]interface{}) (interface{}, error) {
	vm := goja.New()
	if err := restrict(vm); err != nil {
		return nil, &EvaluationError{Expression: expr, Cause: err}
	}
	for name, value := range variables {
		if err := vm.Set(name, value); err != nil {
			return nil, &EvaluationError{Expression: expr, Cause: err}
		}
	}
	value, err := vm.RunString(expr)
	if err != nil {
		return nil, &EvaluationError{Expression: expr, Cause: err}
	}
	return value.Export(), nil
}

func (e *JSEvaluator) EvaluateAll(ctx context.Context, exprs []string, variables map[string]interface{}) ([]interface{}, error) {
	values := make([]interface{}, 0, len(exprs))
	for _, expr := range exprs {
		value, err := e.Evaluate(ctx, expr, variables)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

func (e *JSEvaluator) EvaluateBool(ctx context.Context, expr string, variables map[string]interface{}) (bool, error) {
	value, err := e.Evaluate(ctx, expr, variables)
	if err != nil {
		return false, err
	}
	truthy, ok := value.(bool)
	if !ok {
		return false, &EvaluationError{
			Expression: expr,
			Cause:      fmt.Errorf("expression result is %T, expected bool", value),
		}
	}
	return truthy, nil
}

func restrict(vm *goja.Runtime) error {
	for _, name := range restrictedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}
