// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"

	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/persistence/data_models"
)

// State is one lifecycle state of a flow-node sequence.
type State struct {
	ID data_models.FlowNodeStateID
	// Terminal states never advance further.
	Terminal bool
	// Stable states are safe crash-recovery checkpoints: execution parks there
	// until an external signal (user action, child completion) resumes it.
	Stable bool
	// Interrupting marks the states entered because of an interruption.
	Interrupting bool
	// Category selects which of the three sequences the state belongs to.
	Category data_models.StateCategory
}

// stateSequences declares, for one flow-node category, the ordered states of
// the normal, abort and cancel paths.
type stateSequences struct {
	normal []State
	abort  []State
	cancel []State
}

// StateMachine answers "what state comes next" per flow-node category.
// Which sequence governs an instance is decided by the caller through the
// state category, not by the state machine itself.
type StateMachine struct {
	sequences map[definition.FlowNodeType]stateSequences
}

var abortSequence = []State{
	{ID: data_models.FlowNodeStateAborting, Interrupting: true, Category: data_models.StateCategoryAborting},
	{ID: data_models.FlowNodeStateAborted, Terminal: true, Interrupting: true, Category: data_models.StateCategoryAborting},
}

var cancelSequence = []State{
	{ID: data_models.FlowNodeStateCancelling, Interrupting: true, Category: data_models.StateCategoryCancelling},
	{ID: data_models.FlowNodeStateCancelled, Terminal: true, Interrupting: true, Category: data_models.StateCategoryCancelling},
}

func normalSequence(states ...State) []State {
	for i := range states {
		states[i].Category = data_models.StateCategoryNormal
	}
	return states
}

func NewStateMachine() *StateMachine {
	taskSequence := stateSequences{
		normal: normalSequence(
			State{ID: data_models.FlowNodeStateInitializing},
			State{ID: data_models.FlowNodeStateExecuting},
			State{ID: data_models.FlowNodeStateCompleted, Terminal: true},
		),
		abort:  abortSequence,
		cancel: cancelSequence,
	}
	userTaskSequence := stateSequences{
		normal: normalSequence(
			State{ID: data_models.FlowNodeStateInitializing},
			State{ID: data_models.FlowNodeStateWaiting, Stable: true},
			State{ID: data_models.FlowNodeStateExecuting},
			State{ID: data_models.FlowNodeStateCompleted, Terminal: true},
		),
		abort:  abortSequence,
		cancel: cancelSequence,
	}
	// sub-processes and call activities park in EXECUTING while the child
	// process instance runs
	scopeSequence := stateSequences{
		normal: normalSequence(
			State{ID: data_models.FlowNodeStateInitializing},
			State{ID: data_models.FlowNodeStateExecuting, Stable: true},
			State{ID: data_models.FlowNodeStateCompleted, Terminal: true},
		),
		abort:  abortSequence,
		cancel: cancelSequence,
	}
	eventSequence := stateSequences{
		normal: normalSequence(
			State{ID: data_models.FlowNodeStateExecuting},
			State{ID: data_models.FlowNodeStateCompleted, Terminal: true},
		),
		abort:  abortSequence,
		cancel: cancelSequence,
	}
	gatewaySequence := stateSequences{
		normal: normalSequence(
			State{ID: data_models.FlowNodeStateWaiting, Stable: true},
			State{ID: data_models.FlowNodeStateExecuting},
			State{ID: data_models.FlowNodeStateCompleted, Terminal: true},
		),
		abort:  abortSequence,
		cancel: cancelSequence,
	}

	return &StateMachine{
		sequences: map[definition.FlowNodeType]stateSequences{
			definition.FlowNodeTypeAutomaticTask: taskSequence,
			definition.FlowNodeTypeUserTask:      userTaskSequence,
			definition.FlowNodeTypeSubProcess:    scopeSequence,
			definition.FlowNodeTypeCallActivity:  scopeSequence,
			definition.FlowNodeTypeStartEvent:    eventSequence,
			definition.FlowNodeTypeEndEvent:      eventSequence,
			definition.FlowNodeTypeBoundaryEvent: eventSequence,
			definition.FlowNodeTypeGateway:       gatewaySequence,
		},
	}
}

// InitialState returns the first state of the normal sequence.
func (m *StateMachine) InitialState(nodeType definition.FlowNodeType) (State, error) {
	seq, ok := m.sequences[nodeType]
	if !ok {
		return State{}, fmt.Errorf("no lifecycle sequence for flow node type %v", nodeType)
	}
	return seq.normal[0], nil
}

// StateByID resolves a persisted state id back to its full state.
func (m *StateMachine) StateByID(nodeType definition.FlowNodeType, stateID data_models.FlowNodeStateID) (State, error) {
	seq, ok := m.sequences[nodeType]
	if !ok {
		return State{}, fmt.Errorf("no lifecycle sequence for flow node type %v", nodeType)
	}
	for _, states := range [][]State{seq.normal, seq.abort, seq.cancel} {
		for _, state := range states {
			if state.ID == stateID {
				return state, nil
			}
		}
	}
	return State{}, fmt.Errorf("state %v is not in any lifecycle sequence of flow node type %v", stateID, nodeType)
}

// Next returns the state following current under the given category.
// When the category differs from the current state's sequence (the owning
// process was aborted or cancelled mid-flight), the next advance switches to
// the head of the abort/cancel sequence regardless of progress so far.
// Advancing a terminal state is an error.
func (m *StateMachine) Next(
	nodeType definition.FlowNodeType,
	current State,
	category data_models.StateCategory,
) (State, error) {
	if current.Terminal {
		return State{}, fmt.Errorf("%w: state %v of flow node type %v is terminal", ErrInvalidStateTransition, current.ID, nodeType)
	}
	seq, ok := m.sequences[nodeType]
	if !ok {
		return State{}, fmt.Errorf("no lifecycle sequence for flow node type %v", nodeType)
	}

	governing := seq.normal
	switch category {
	case data_models.StateCategoryAborting:
		governing = seq.abort
	case data_models.StateCategoryCancelling:
		governing = seq.cancel
	}

	if current.Category != category {
		// sequence switch: restart at the head of the governing sequence
		return governing[0], nil
	}
	for i, state := range governing {
		if state.ID == current.ID {
			return governing[i+1], nil
		}
	}
	return State{}, fmt.Errorf("state %v is not in the %v sequence of flow node type %v", current.ID, category, nodeType)
}
