// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessDisabled is returned when starting a disabled process definition.
	ErrProcessDisabled = errors.New("process definition is disabled")
	// ErrContractViolation is returned when required start inputs are missing.
	ErrContractViolation = errors.New("start contract violation")
	// ErrCorrelationFault is an internal consistency fault: the definition
	// declares a catcher but its waiting-event records are missing or duplicated.
	ErrCorrelationFault = errors.New("event correlation fault")
	// ErrInvalidStateTransition is returned when a lifecycle state is advanced
	// past a terminal state.
	ErrInvalidStateTransition = errors.New("invalid lifecycle state transition")
)

// ErrorContext carries the diagnostic identifiers attached to every error
// leaving the engine. Fields are filled at wrap time, immutably.
type ErrorContext struct {
	ProcessDefinitionID   int64
	ProcessName           string
	ProcessVersion        string
	ProcessInstanceID     int64
	RootProcessInstanceID int64
	FlowNodeDefinitionID  int64
	FlowNodeName          string
}

// ExecutionError is the single structured error of the engine: a cause plus
// the execution context where it was raised.
type ExecutionError struct {
	Context ErrorContext
	Cause   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf(
		"process execution error: %v [processDefinitionId=%v processName=%q processVersion=%q processInstanceId=%v rootProcessInstanceId=%v flowNodeDefinitionId=%v flowNodeName=%q]",
		e.Cause,
		e.Context.ProcessDefinitionID, e.Context.ProcessName, e.Context.ProcessVersion,
		e.Context.ProcessInstanceID, e.Context.RootProcessInstanceID,
		e.Context.FlowNodeDefinitionID, e.Context.FlowNodeName,
	)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// wrapError attaches execution context to an error. If the cause already
// carries a context from a deeper frame, it is kept untouched.
func wrapError(cause error, errCtx ErrorContext) error {
	if cause == nil {
		return nil
	}
	var existing *ExecutionError
	if errors.As(cause, &existing) {
		return cause
	}
	return &ExecutionError{
		Context: errCtx,
		Cause:   cause,
	}
}
