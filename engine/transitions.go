// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/expression"
	"github.com/procflowio/procflow/persistence"
)

// TransitionsWrapper is the outcome of evaluating the outgoing transitions of
// a finished flow node.
type TransitionsWrapper struct {
	// NonDefault are all declared outgoing transitions except the default,
	// in declaration order.
	NonDefault []*definition.TransitionDefinition
	// Default is the declared default transition, nil when none.
	Default *definition.TransitionDefinition
	// Valid are the transitions to actually take, in declaration order:
	// unconditioned and condition-true transitions, or the default when no
	// conditioned transition matched. Empty means the branch died.
	Valid []*definition.TransitionDefinition
	// AllOutgoingCount counts every declared outgoing transition, default
	// included.
	AllOutgoingCount int
}

// IsLastFlowNode reports whether the finished node ends its branch.
func (w *TransitionsWrapper) IsLastFlowNode() bool {
	return w.AllOutgoingCount == 0
}

// TransitionEvaluator computes which outgoing transitions of a finished flow
// node are valid, evaluating boolean conditions against process variables.
type TransitionEvaluator struct {
	evaluator     expression.Evaluator
	instanceStore persistence.InstanceStore
}

func NewTransitionEvaluator(evaluator expression.Evaluator, instanceStore persistence.InstanceStore) *TransitionEvaluator {
	return &TransitionEvaluator{
		evaluator:     evaluator,
		instanceStore: instanceStore,
	}
}

// EvaluateOutgoing computes the TransitionsWrapper for a finished node.
// Conditions are evaluated in declaration order; when none evaluates true the
// default transition is taken; no default and no match means zero valid
// transitions, which callers must tolerate (dead branch).
func (e *TransitionEvaluator) EvaluateOutgoing(
	ctx context.Context,
	container *definition.ContainerDefinition,
	node *definition.FlowNodeDefinition,
	processInstanceID int64,
) (*TransitionsWrapper, error) {
	wrapper := &TransitionsWrapper{
		AllOutgoingCount: len(node.Outgoing),
	}
	if node.DefaultTransition != 0 {
		wrapper.AllOutgoingCount++
		defaultTransition, ok := container.TransitionByID(node.DefaultTransition)
		if !ok {
			return nil, fmt.Errorf("default transition %v of flow node %v is not in its container", node.DefaultTransition, node.ID)
		}
		wrapper.Default = defaultTransition
	}
	if wrapper.AllOutgoingCount == 0 {
		return wrapper, nil
	}

	var variables map[string]interface{}
	for _, transitionID := range node.Outgoing {
		transition, ok := container.TransitionByID(transitionID)
		if !ok {
			return nil, fmt.Errorf("transition %v of flow node %v is not in its container", transitionID, node.ID)
		}
		wrapper.NonDefault = append(wrapper.NonDefault, transition)

		if transition.Condition == "" {
			wrapper.Valid = append(wrapper.Valid, transition)
			continue
		}
		if variables == nil {
			var err error
			variables, err = e.instanceStore.GetProcessVariables(ctx, processInstanceID)
			if err != nil {
				return nil, err
			}
		}
		truthy, err := e.evaluator.EvaluateBool(ctx, transition.Condition, variables)
		if err != nil {
			return nil, err
		}
		if truthy {
			wrapper.Valid = append(wrapper.Valid, transition)
		}
	}

	if len(wrapper.Valid) == 0 && wrapper.Default != nil {
		wrapper.Valid = append(wrapper.Valid, wrapper.Default)
	}
	return wrapper, nil
}
