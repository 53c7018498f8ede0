// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nestedDefinition() *ProcessDefinition {
	def := &ProcessDefinition{
		ID:      1,
		Name:    "order-handling",
		Version: "1.0",
		Enabled: true,
		Connectors: []ConnectorDefinition{
			{ID: "audit-in", Name: "audit", ActivationEvent: ConnectorOnEnter},
			{ID: "audit-out", Name: "audit", ActivationEvent: ConnectorOnFinish},
			{ID: "notify", Name: "notify", ActivationEvent: ConnectorOnFinish},
		},
		Container: &ContainerDefinition{
			ID: 100,
			FlowNodes: []*FlowNodeDefinition{
				{ID: 1, Name: "start", Type: FlowNodeTypeStartEvent, Outgoing: []int64{11}},
				{ID: 2, Name: "work", Type: FlowNodeTypeSubProcess, Incoming: []int64{11}, Outgoing: []int64{12},
					BoundaryEvents: []int64{4},
					Container: &ContainerDefinition{
						ID: 200,
						FlowNodes: []*FlowNodeDefinition{
							{ID: 21, Name: "inner", Type: FlowNodeTypeAutomaticTask, Outgoing: []int64{31}},
							{ID: 22, Name: "innerEnd", Type: FlowNodeTypeEndEvent, Incoming: []int64{31}},
						},
						Transitions: []*TransitionDefinition{
							{ID: 31, Source: 21, Target: 22},
						},
					}},
				{ID: 3, Name: "end", Type: FlowNodeTypeEndEvent, Incoming: []int64{12}},
				{ID: 4, Name: "onError", Type: FlowNodeTypeBoundaryEvent, AttachedToID: 2, Outgoing: []int64{13}},
				{ID: 5, Name: "recovered", Type: FlowNodeTypeEndEvent, Incoming: []int64{13}},
				{ID: 6, Name: "watchdog", Type: FlowNodeTypeSubProcess, TriggeredByEvent: true,
					Container: &ContainerDefinition{ID: 300}},
			},
			Transitions: []*TransitionDefinition{
				{ID: 11, Source: 1, Target: 2},
				{ID: 12, Source: 2, Target: 3},
				{ID: 13, Source: 4, Target: 5},
			},
		},
	}
	def.Container.Index()
	return def
}

func TestStartNodesExcludeEventTriggered(t *testing.T) {
	def := nestedDefinition()

	starts := def.Container.StartNodes()
	require.Len(t, starts, 1)
	assert.Equal(t, int64(1), starts[0].ID,
		"boundary events and event sub-processes have no incoming transitions but never start the scope")
}

func TestEventSubProcesses(t *testing.T) {
	def := nestedDefinition()

	subs := def.Container.EventSubProcesses()
	require.Len(t, subs, 1)
	assert.Equal(t, int64(6), subs[0].ID)
}

func TestContainerOfResolvesNesting(t *testing.T) {
	def := nestedDefinition()

	assert.Equal(t, int64(100), def.Container.ContainerOf(2).ID)
	assert.Equal(t, int64(200), def.Container.ContainerOf(21).ID)
	assert.Nil(t, def.Container.ContainerOf(999))
}

func TestFindFlowNodeAcrossScopes(t *testing.T) {
	def := nestedDefinition()

	inner, ok := def.FindFlowNode(21)
	require.True(t, ok)
	assert.Equal(t, "inner", inner.Name)

	_, ok = def.FindFlowNode(999)
	assert.False(t, ok)
}

func TestFindTransitionAcrossScopes(t *testing.T) {
	def := nestedDefinition()

	outer, ok := def.FindTransition(12)
	require.True(t, ok)
	assert.Equal(t, int64(2), outer.Source)

	nested, ok := def.FindTransition(31)
	require.True(t, ok)
	assert.Equal(t, int64(21), nested.Source)

	_, ok = def.FindTransition(999)
	assert.False(t, ok)
}

func TestConnectorsFor(t *testing.T) {
	def := nestedDefinition()

	assert.Len(t, def.ConnectorsFor(ConnectorOnEnter), 1)
	assert.Len(t, def.ConnectorsFor(ConnectorOnFinish), 2)
}
