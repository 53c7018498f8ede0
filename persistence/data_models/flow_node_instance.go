// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package data_models

import (
	"github.com/procflowio/procflow/definition"
)

// FlowNodeInstance is one execution of a flow-node definition inside a
// process instance.
type FlowNodeInstance struct {
	ID                   int64
	FlowNodeDefinitionID int64
	Name                 string
	Type                 definition.FlowNodeType

	ProcessDefinitionID   int64
	ProcessInstanceID     int64
	RootProcessInstanceID int64

	// AttachedToInstanceID is set on boundary-event instances: the activity
	// instance whose border the event sits on.
	AttachedToInstanceID int64

	State         FlowNodeStateID
	StateCategory StateCategory
	// Terminal and Stable mirror the state-machine attributes of State so the
	// store can answer "active children" queries without the state tables.
	Terminal bool
	Stable   bool
}

// GatewayInstance extends a flow-node instance with incoming-token accounting.
// A logical gateway definition may have several concurrent instances in the
// same scope; only one of them is unfinished at a time per definition+scope.
type GatewayInstance struct {
	FlowNodeInstance

	// HitBys are the incoming transition definition ids already merged into
	// this instance, in hit order. Idempotent per transition id.
	HitBys []int64
	// Finished is set when the merge fired; a finished instance never accepts
	// further hits.
	Finished bool
}

// IsHitBy reports whether the given incoming transition was already counted.
func (g *GatewayInstance) IsHitBy(transitionID int64) bool {
	for _, hit := range g.HitBys {
		if hit == transitionID {
			return true
		}
	}
	return false
}
