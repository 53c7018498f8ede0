// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package definition

type FlowNodeType string

const (
	FlowNodeTypeStartEvent    FlowNodeType = "START_EVENT"
	FlowNodeTypeEndEvent      FlowNodeType = "END_EVENT"
	FlowNodeTypeAutomaticTask FlowNodeType = "AUTOMATIC_TASK"
	FlowNodeTypeUserTask      FlowNodeType = "USER_TASK"
	FlowNodeTypeGateway       FlowNodeType = "GATEWAY"
	FlowNodeTypeSubProcess    FlowNodeType = "SUB_PROCESS"
	FlowNodeTypeCallActivity  FlowNodeType = "CALL_ACTIVITY"
	FlowNodeTypeBoundaryEvent FlowNodeType = "BOUNDARY_EVENT"
)

// IsActivity reports whether the node can own boundary events and a child scope.
func (t FlowNodeType) IsActivity() bool {
	switch t {
	case FlowNodeTypeAutomaticTask, FlowNodeTypeUserTask, FlowNodeTypeSubProcess, FlowNodeTypeCallActivity:
		return true
	default:
		return false
	}
}

type GatewayType string

const (
	GatewayTypeExclusive GatewayType = "EXCLUSIVE"
	GatewayTypeParallel  GatewayType = "PARALLEL"
	GatewayTypeInclusive GatewayType = "INCLUSIVE"
)

type EndEventKind string

const (
	// EndEventKindNone finishes the branch only
	EndEventKindNone EndEventKind = "NONE"
	// EndEventKindTerminate aborts all other active flow nodes of the scope
	EndEventKindTerminate EndEventKind = "TERMINATE"
	// EndEventKindError throws an interrupting error to be correlated to a catcher
	EndEventKindError EndEventKind = "ERROR"
)

type ConnectorActivationEvent string

const (
	ConnectorOnEnter  ConnectorActivationEvent = "ON_ENTER"
	ConnectorOnFinish ConnectorActivationEvent = "ON_FINISH"
)
