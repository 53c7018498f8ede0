// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package data_models

import (
	"github.com/procflowio/procflow/common/uuid"
)

// ProcessInstance is one execution of a process definition.
// All linkage is by id (arena model); no in-memory object graph.
type ProcessInstance struct {
	ID int64
	// ExternalID is the client-facing identity, assigned at creation.
	ExternalID uuid.UUID
	ProcessDefinitionID int64
	// RootProcessInstanceID is the top of the call chain; equals ID for roots.
	RootProcessInstanceID int64
	// CallerProcessInstanceID is the direct parent instance, 0 for roots.
	CallerProcessInstanceID int64
	// CallerFlowNodeInstanceID is the call-activity/sub-process flow-node
	// instance waiting on this child, 0 for roots.
	CallerFlowNodeInstanceID int64
	CallerType               CallerType
	State                    ProcessInstanceState
	StateCategory            StateCategory
	// InterruptingEventID is the flow-node instance id of the event that
	// interrupted this instance. Zero or negative means not interrupted.
	InterruptingEventID int64
}

func (p *ProcessInstance) IsInterrupted() bool {
	return p.InterruptingEventID > 0
}
