// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package data_models

// ProcessInstanceState is the lifecycle state of a process instance.
// Allowed moves:
// INITIALIZING -> STARTED -> {COMPLETING -> COMPLETED} | {ABORTING -> ABORTED} | {CANCELLING -> CANCELLED}
// Terminal states never change again.
type ProcessInstanceState string

const (
	ProcessInstanceStateInitializing ProcessInstanceState = "INITIALIZING"
	ProcessInstanceStateStarted      ProcessInstanceState = "STARTED"
	ProcessInstanceStateCompleting   ProcessInstanceState = "COMPLETING"
	ProcessInstanceStateCompleted    ProcessInstanceState = "COMPLETED"
	ProcessInstanceStateAborting     ProcessInstanceState = "ABORTING"
	ProcessInstanceStateAborted      ProcessInstanceState = "ABORTED"
	ProcessInstanceStateCancelling   ProcessInstanceState = "CANCELLING"
	ProcessInstanceStateCancelled    ProcessInstanceState = "CANCELLED"
)

func (s ProcessInstanceState) IsTerminal() bool {
	switch s {
	case ProcessInstanceStateCompleted, ProcessInstanceStateAborted, ProcessInstanceStateCancelled:
		return true
	default:
		return false
	}
}

// StateCategory selects which lifecycle sequence governs an instance:
// the normal path, or the abort/cancel path after an interruption.
type StateCategory string

const (
	StateCategoryNormal     StateCategory = "NORMAL"
	StateCategoryAborting   StateCategory = "ABORTING"
	StateCategoryCancelling StateCategory = "CANCELLING"
)

// FlowNodeStateID identifies one state of a flow-node lifecycle sequence.
type FlowNodeStateID string

const (
	FlowNodeStateInitializing FlowNodeStateID = "INITIALIZING"
	FlowNodeStateExecuting    FlowNodeStateID = "EXECUTING"
	FlowNodeStateWaiting      FlowNodeStateID = "WAITING"
	FlowNodeStateCompleted    FlowNodeStateID = "COMPLETED"
	FlowNodeStateAborting     FlowNodeStateID = "ABORTING"
	FlowNodeStateAborted      FlowNodeStateID = "ABORTED"
	FlowNodeStateCancelling   FlowNodeStateID = "CANCELLING"
	FlowNodeStateCancelled    FlowNodeStateID = "CANCELLED"
)

// CallerType records what started a process instance.
type CallerType string

const (
	CallerTypeNone            CallerType = "NONE"
	CallerTypeCallActivity    CallerType = "CALL_ACTIVITY"
	CallerTypeSubProcess      CallerType = "SUB_PROCESS"
	CallerTypeEventSubProcess CallerType = "EVENT_SUB_PROCESS"
)

// WaitingEventType is the catcher kind of a waiting-event record.
type WaitingEventType string

const (
	WaitingEventTypeBoundaryEvent   WaitingEventType = "BOUNDARY_EVENT"
	WaitingEventTypeEventSubProcess WaitingEventType = "EVENT_SUB_PROCESS"
)
