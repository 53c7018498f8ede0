// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"context"
	"errors"

	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/persistence/data_models"
)

// ErrNotFound is returned by all stores for missing rows.
var ErrNotFound = errors.New("persistence: not found")

// DefinitionStore serves compiled process definitions. Definitions are
// immutable once deployed; the engine treats them as read-only.
type DefinitionStore interface {
	GetProcessDefinition(ctx context.Context, processDefinitionID int64) (*definition.ProcessDefinition, error)
	// GetLatestProcessDefinitionByName resolves a call-activity target.
	GetLatestProcessDefinitionByName(ctx context.Context, name string) (*definition.ProcessDefinition, error)
}

// InstanceStore owns the durable runtime state: process instances, flow-node
// instances, gateway instances and process variables. Implementations must
// make each method atomic; the engine never holds cross-method transactions.
type InstanceStore interface {
	// CreateProcessInstance persists the instance and assigns its ID.
	// RootProcessInstanceID equal to zero is fixed up to the new ID.
	CreateProcessInstance(ctx context.Context, instance *data_models.ProcessInstance) error
	GetProcessInstance(ctx context.Context, processInstanceID int64) (*data_models.ProcessInstance, error)
	UpdateProcessInstanceState(
		ctx context.Context,
		processInstanceID int64,
		state data_models.ProcessInstanceState,
		category data_models.StateCategory,
	) error
	// SetInterruptingEventID records which event instance interrupted the
	// process; zero clears it.
	SetInterruptingEventID(ctx context.Context, processInstanceID int64, eventInstanceID int64) error
	// ListChildProcessInstances returns non-terminal instances whose caller is
	// the given process instance.
	ListChildProcessInstances(ctx context.Context, callerProcessInstanceID int64) ([]*data_models.ProcessInstance, error)

	// CreateFlowNodeInstance persists the instance and assigns its ID.
	CreateFlowNodeInstance(ctx context.Context, instance *data_models.FlowNodeInstance) error
	GetFlowNodeInstance(ctx context.Context, flowNodeInstanceID int64) (*data_models.FlowNodeInstance, error)
	// UpdateFlowNodeState persists State, StateCategory, Terminal and Stable.
	UpdateFlowNodeState(ctx context.Context, instance *data_models.FlowNodeInstance) error
	// ListActiveFlowNodeInstances returns non-archived, non-terminal flow-node
	// instances of a process instance, gateway instances included.
	ListActiveFlowNodeInstances(ctx context.Context, processInstanceID int64) ([]*data_models.FlowNodeInstance, error)
	CountActiveFlowNodeInstances(ctx context.Context, processInstanceID int64) (int, error)
	// ArchiveFlowNodeInstance moves a terminal instance out of the active set.
	ArchiveFlowNodeInstance(ctx context.Context, flowNodeInstanceID int64) error

	// CreateGatewayInstance persists the instance and assigns its ID.
	CreateGatewayInstance(ctx context.Context, instance *data_models.GatewayInstance) error
	// GetActiveGatewayInstance returns the single unfinished instance for the
	// given definition in the given process scope, or ErrNotFound.
	GetActiveGatewayInstance(ctx context.Context, processInstanceID int64, gatewayDefinitionID int64) (*data_models.GatewayInstance, error)
	// ListActiveGatewayInstances returns all unfinished gateway instances of a
	// process instance, used by inclusive re-evaluation.
	ListActiveGatewayInstances(ctx context.Context, processInstanceID int64) ([]*data_models.GatewayInstance, error)
	// UpdateGatewayInstance persists HitBys and Finished.
	UpdateGatewayInstance(ctx context.Context, instance *data_models.GatewayInstance) error

	SetProcessVariable(ctx context.Context, processInstanceID int64, name string, value interface{}) error
	GetProcessVariables(ctx context.Context, processInstanceID int64) (map[string]interface{}, error)
}

// WaitingEventStore owns the durable catcher records used by event correlation.
type WaitingEventStore interface {
	// CreateWaitingErrorEvent persists the record and assigns its ID.
	CreateWaitingErrorEvent(ctx context.Context, event *data_models.WaitingErrorEvent) error
	// ListWaitingErrorEvents returns active records of one catcher kind scoped
	// to a process instance.
	ListWaitingErrorEvents(
		ctx context.Context,
		processInstanceID int64,
		eventType data_models.WaitingEventType,
	) ([]*data_models.WaitingErrorEvent, error)
	// ListBoundaryWaitingEvents returns active boundary records guarding the
	// given activity instance.
	ListBoundaryWaitingEvents(ctx context.Context, activityInstanceID int64) ([]*data_models.WaitingErrorEvent, error)
	DeleteWaitingErrorEvent(ctx context.Context, waitingEventID int64) error
	// DeleteWaitingEventsOfProcessInstance removes all records scoped to the
	// instance, called when the scope reaches a terminal state.
	DeleteWaitingEventsOfProcessInstance(ctx context.Context, processInstanceID int64) error
}
