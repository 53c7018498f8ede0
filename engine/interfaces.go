// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/procflowio/procflow/common/uuid"
	"github.com/procflowio/procflow/definition"
)

type WorkType string

const (
	// WorkTypeExecuteFlowNode advances one flow-node instance through its
	// lifecycle until it reaches a stable or terminal state.
	WorkTypeExecuteFlowNode WorkType = "EXECUTE_FLOW_NODE"
	// WorkTypeExecuteConnectors runs the connectors of one activation event
	// for a process instance.
	WorkTypeExecuteConnectors WorkType = "EXECUTE_CONNECTORS"
)

// WorkDescriptor is one unit of asynchronous work. Delivery is at least once;
// handlers guard against duplicates with state checks.
type WorkDescriptor struct {
	ID   uuid.UUID `json:"id"`
	Type WorkType  `json:"type"`

	ProcessDefinitionID int64 `json:"processDefinitionId"`
	ProcessInstanceID   int64 `json:"processInstanceId"`
	FlowNodeInstanceID  int64 `json:"flowNodeInstanceId,omitempty"`

	ConnectorEvent definition.ConnectorActivationEvent `json:"connectorEvent,omitempty"`

	Attempts int `json:"attempts,omitempty"`
}

// WorkProcessor consumes work descriptors; implemented by the orchestrator.
type WorkProcessor interface {
	ProcessWork(ctx context.Context, work WorkDescriptor) error
}

// WorkProcessorFunc adapts a function to WorkProcessor, which breaks the
// construction cycle between the orchestrator and its dispatcher.
type WorkProcessorFunc func(ctx context.Context, work WorkDescriptor) error

func (f WorkProcessorFunc) ProcessWork(ctx context.Context, work WorkDescriptor) error {
	return f(ctx, work)
}

// WorkDispatcher enqueues asynchronous work for the worker pool.
type WorkDispatcher interface {
	// Dispatch enqueues the work; it must not block on work execution.
	Dispatch(work WorkDescriptor) error
	Start() error
	Stop(ctx context.Context) error
}

// ConnectorExecutor runs deployed connector implementations. The engine only
// sequences them; what a connector does is outside this layer.
type ConnectorExecutor interface {
	Execute(ctx context.Context, connector definition.ConnectorDefinition, variables map[string]interface{}) error
}
