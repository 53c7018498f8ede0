// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package expression

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateArithmetic(t *testing.T) {
	evaluator := NewJSEvaluator()

	value, err := evaluator.Evaluate(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)
}

func TestEvaluateUsesVariables(t *testing.T) {
	evaluator := NewJSEvaluator()

	value, err := evaluator.Evaluate(context.Background(), `amount * rate`, map[string]interface{}{
		"amount": 100,
		"rate":   2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), value)
}

func TestEvaluateBool(t *testing.T) {
	evaluator := NewJSEvaluator()

	truthy, err := evaluator.EvaluateBool(context.Background(), "amount > 100", map[string]interface{}{"amount": 200})
	require.NoError(t, err)
	assert.True(t, truthy)

	truthy, err = evaluator.EvaluateBool(context.Background(), "amount > 100", map[string]interface{}{"amount": 50})
	require.NoError(t, err)
	assert.False(t, truthy)
}

func TestEvaluateBoolRejectsNonBool(t *testing.T) {
	evaluator := NewJSEvaluator()

	_, err := evaluator.EvaluateBool(context.Background(), `"yes"`, nil)
	require.Error(t, err)
	var evalErr *EvaluationError
	assert.ErrorAs(t, err, &evalErr)
	assert.Equal(t, `"yes"`, evalErr.Expression)
}

func TestEvaluateSyntaxError(t *testing.T) {
	evaluator := NewJSEvaluator()

	_, err := evaluator.Evaluate(context.Background(), "this is not javascript", nil)
	var evalErr *EvaluationError
	assert.ErrorAs(t, err, &evalErr)
}

func TestRestrictedGlobalsAreUndefined(t *testing.T) {
	evaluator := NewJSEvaluator()

	for _, name := range restrictedGlobals {
		value, err := evaluator.Evaluate(context.Background(), "typeof "+name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, "undefined", value, name)
	}
}

func TestEvaluateAll(t *testing.T) {
	evaluator := NewJSEvaluator()

	values, err := evaluator.EvaluateAll(context.Background(), []string{"1", "x", `"s"`}, map[string]interface{}{"x": true})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(1), true, "s"}, values)

	_, err = evaluator.EvaluateAll(context.Background(), []string{"1", "nope("}, nil)
	assert.Error(t, err)
}

func TestRuntimeIsolationBetweenEvaluations(t *testing.T) {
	evaluator := NewJSEvaluator()
	ctx := context.Background()

	_, err := evaluator.Evaluate(ctx, "leaked = 42", nil)
	require.NoError(t, err)

	value, err := evaluator.Evaluate(ctx, "typeof leaked", nil)
	require.NoError(t, err)
	assert.Equal(t, "undefined", value)
}
