// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/expression"
	"github.com/procflowio/procflow/persistence/memory"
)

func splitContainer() *definition.ContainerDefinition {
	container := &definition.ContainerDefinition{
		ID: 100,
		FlowNodes: []*definition.FlowNodeDefinition{
			{ID: 1, Name: "route", Type: definition.FlowNodeTypeAutomaticTask,
				Outgoing: []int64{11, 12}, DefaultTransition: 13},
			{ID: 2, Name: "a", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{11}},
			{ID: 3, Name: "b", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{12}},
			{ID: 4, Name: "c", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{13}},
		},
		Transitions: []*definition.TransitionDefinition{
			{ID: 11, Source: 1, Target: 2, Condition: "amount > 100"},
			{ID: 12, Source: 1, Target: 3},
			{ID: 13, Source: 1, Target: 4},
		},
	}
	container.Index()
	return container
}

func newTransitionEvaluator(t *testing.T, variables map[string]interface{}) (*TransitionEvaluator, int64) {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()
	for name, value := range variables {
		require.NoError(t, store.SetProcessVariable(ctx, 1, name, value))
	}
	return NewTransitionEvaluator(expression.NewJSEvaluator(), store), 1
}

func TestEvaluateOutgoingConditionTrue(t *testing.T) {
	container := splitContainer()
	evaluator, pid := newTransitionEvaluator(t, map[string]interface{}{"amount": 200})

	node, _ := container.FlowNodeByID(1)
	wrapper, err := evaluator.EvaluateOutgoing(context.Background(), container, node, pid)
	require.NoError(t, err)

	assert.Equal(t, 3, wrapper.AllOutgoingCount)
	require.Len(t, wrapper.Valid, 2)
	assert.Equal(t, int64(11), wrapper.Valid[0].ID, "conditioned transition is taken")
	assert.Equal(t, int64(12), wrapper.Valid[1].ID, "unconditioned transition is always taken")
}

func TestEvaluateOutgoingDefaultFallback(t *testing.T) {
	container := &definition.ContainerDefinition{
		ID: 100,
		FlowNodes: []*definition.FlowNodeDefinition{
			{ID: 1, Name: "route", Type: definition.FlowNodeTypeAutomaticTask,
				Outgoing: []int64{11}, DefaultTransition: 13},
			{ID: 2, Name: "a", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{11}},
			{ID: 4, Name: "c", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{13}},
		},
		Transitions: []*definition.TransitionDefinition{
			{ID: 11, Source: 1, Target: 2, Condition: "amount > 100"},
			{ID: 13, Source: 1, Target: 4},
		},
	}
	container.Index()
	evaluator, pid := newTransitionEvaluator(t, map[string]interface{}{"amount": 50})

	node, _ := container.FlowNodeByID(1)
	wrapper, err := evaluator.EvaluateOutgoing(context.Background(), container, node, pid)
	require.NoError(t, err)

	require.Len(t, wrapper.Valid, 1)
	assert.Equal(t, int64(13), wrapper.Valid[0].ID, "default is taken when no condition matches")
}

func TestEvaluateOutgoingDeadBranch(t *testing.T) {
	container := &definition.ContainerDefinition{
		ID: 100,
		FlowNodes: []*definition.FlowNodeDefinition{
			{ID: 1, Name: "route", Type: definition.FlowNodeTypeAutomaticTask, Outgoing: []int64{11}},
			{ID: 2, Name: "a", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{11}},
		},
		Transitions: []*definition.TransitionDefinition{
			{ID: 11, Source: 1, Target: 2, Condition: "false"},
		},
	}
	container.Index()
	evaluator, pid := newTransitionEvaluator(t, nil)

	node, _ := container.FlowNodeByID(1)
	wrapper, err := evaluator.EvaluateOutgoing(context.Background(), container, node, pid)
	require.NoError(t, err)

	assert.Empty(t, wrapper.Valid)
	assert.Equal(t, 1, wrapper.AllOutgoingCount)
	assert.False(t, wrapper.IsLastFlowNode())
}

func TestEvaluateOutgoingLastFlowNode(t *testing.T) {
	container := &definition.ContainerDefinition{
		ID: 100,
		FlowNodes: []*definition.FlowNodeDefinition{
			{ID: 1, Name: "end", Type: definition.FlowNodeTypeEndEvent},
		},
	}
	container.Index()
	evaluator, pid := newTransitionEvaluator(t, nil)

	node, _ := container.FlowNodeByID(1)
	wrapper, err := evaluator.EvaluateOutgoing(context.Background(), container, node, pid)
	require.NoError(t, err)
	assert.True(t, wrapper.IsLastFlowNode())
}

func TestEvaluateOutgoingConditionError(t *testing.T) {
	container := &definition.ContainerDefinition{
		ID: 100,
		FlowNodes: []*definition.FlowNodeDefinition{
			{ID: 1, Name: "route", Type: definition.FlowNodeTypeAutomaticTask, Outgoing: []int64{11}},
			{ID: 2, Name: "a", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{11}},
		},
		Transitions: []*definition.TransitionDefinition{
			{ID: 11, Source: 1, Target: 2, Condition: `"not a bool"`},
		},
	}
	container.Index()
	evaluator, pid := newTransitionEvaluator(t, nil)

	node, _ := container.FlowNodeByID(1)
	_, err := evaluator.EvaluateOutgoing(context.Background(), container, node, pid)
	assert.Error(t, err)
}
