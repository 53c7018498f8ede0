// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/persistence"
	"github.com/procflowio/procflow/persistence/data_models"
)

func TestRegisterAndLookupDefinition(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	store.RegisterProcessDefinition(&definition.ProcessDefinition{
		ID: 1, Name: "billing", Version: "1.0",
		Container: &definition.ContainerDefinition{ID: 100},
	})
	store.RegisterProcessDefinition(&definition.ProcessDefinition{
		ID: 2, Name: "billing", Version: "2.0",
		Container: &definition.ContainerDefinition{ID: 101},
	})

	byID, err := store.GetProcessDefinition(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1.0", byID.Version)

	latest, err := store.GetLatestProcessDefinitionByName(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "2.0", latest.Version, "later registration wins the name lookup")

	_, err = store.GetProcessDefinition(ctx, 99)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestCreateProcessInstanceAssignsIdentity(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	root := &data_models.ProcessInstance{ProcessDefinitionID: 1, State: data_models.ProcessInstanceStateStarted}
	require.NoError(t, store.CreateProcessInstance(ctx, root))
	assert.NotZero(t, root.ID)
	assert.NotNil(t, root.ExternalID)
	assert.Equal(t, root.ID, root.RootProcessInstanceID, "a parentless instance is its own root")

	child := &data_models.ProcessInstance{
		ProcessDefinitionID:     1,
		State:                   data_models.ProcessInstanceStateStarted,
		CallerProcessInstanceID: root.ID,
		RootProcessInstanceID:   root.RootProcessInstanceID,
	}
	require.NoError(t, store.CreateProcessInstance(ctx, child))
	assert.Equal(t, root.ID, child.RootProcessInstanceID, "provided root is preserved")
}

func TestTerminalProcessStateIsImmutable(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	instance := &data_models.ProcessInstance{ProcessDefinitionID: 1, State: data_models.ProcessInstanceStateStarted}
	require.NoError(t, store.CreateProcessInstance(ctx, instance))

	require.NoError(t, store.UpdateProcessInstanceState(ctx, instance.ID,
		data_models.ProcessInstanceStateCompleted, data_models.StateCategoryNormal))

	err := store.UpdateProcessInstanceState(ctx, instance.ID,
		data_models.ProcessInstanceStateAborted, data_models.StateCategoryAborting)
	assert.Error(t, err)

	// idempotent rewrite of the same terminal state is allowed
	err = store.UpdateProcessInstanceState(ctx, instance.ID,
		data_models.ProcessInstanceStateCompleted, data_models.StateCategoryNormal)
	assert.NoError(t, err)
}

func TestListChildProcessInstancesSkipsTerminal(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	parent := &data_models.ProcessInstance{ProcessDefinitionID: 1, State: data_models.ProcessInstanceStateStarted}
	require.NoError(t, store.CreateProcessInstance(ctx, parent))

	running := &data_models.ProcessInstance{
		ProcessDefinitionID: 2, State: data_models.ProcessInstanceStateStarted,
		CallerProcessInstanceID: parent.ID,
	}
	done := &data_models.ProcessInstance{
		ProcessDefinitionID: 2, State: data_models.ProcessInstanceStateStarted,
		CallerProcessInstanceID: parent.ID,
	}
	require.NoError(t, store.CreateProcessInstance(ctx, running))
	require.NoError(t, store.CreateProcessInstance(ctx, done))
	require.NoError(t, store.UpdateProcessInstanceState(ctx, done.ID,
		data_models.ProcessInstanceStateCompleted, data_models.StateCategoryNormal))

	children, err := store.ListChildProcessInstances(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, running.ID, children[0].ID)
}

func TestArchiveFlowNodeInstance(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	instance := &data_models.FlowNodeInstance{
		FlowNodeDefinitionID: 7,
		Type:                 definition.FlowNodeTypeAutomaticTask,
		ProcessInstanceID:    1,
		State:                data_models.FlowNodeStateCompleted,
		Terminal:             true,
	}
	require.NoError(t, store.CreateFlowNodeInstance(ctx, instance))

	require.NoError(t, store.ArchiveFlowNodeInstance(ctx, instance.ID))

	// still readable after archiving
	got, err := store.GetFlowNodeInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, data_models.FlowNodeStateCompleted, got.State)

	// a second archive reports the duplicate
	err = store.ArchiveFlowNodeInstance(ctx, instance.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	archived := store.ArchivedFlowNodeInstances(1)
	require.Len(t, archived, 1)
}

func TestActiveFlowNodeListing(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	running := &data_models.FlowNodeInstance{
		FlowNodeDefinitionID: 1, Type: definition.FlowNodeTypeAutomaticTask,
		ProcessInstanceID: 1, State: data_models.FlowNodeStateExecuting,
	}
	finished := &data_models.FlowNodeInstance{
		FlowNodeDefinitionID: 2, Type: definition.FlowNodeTypeAutomaticTask,
		ProcessInstanceID: 1, State: data_models.FlowNodeStateCompleted, Terminal: true,
	}
	otherScope := &data_models.FlowNodeInstance{
		FlowNodeDefinitionID: 3, Type: definition.FlowNodeTypeAutomaticTask,
		ProcessInstanceID: 2, State: data_models.FlowNodeStateExecuting,
	}
	for _, instance := range []*data_models.FlowNodeInstance{running, finished, otherScope} {
		require.NoError(t, store.CreateFlowNodeInstance(ctx, instance))
	}

	active, err := store.ListActiveFlowNodeInstances(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, running.ID, active[0].ID)

	count, err := store.CountActiveFlowNodeInstances(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGatewayActiveSemantics(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	gateway := &data_models.GatewayInstance{
		FlowNodeInstance: data_models.FlowNodeInstance{
			FlowNodeDefinitionID: 4,
			Type:                 definition.FlowNodeTypeGateway,
			ProcessInstanceID:    1,
			State:                data_models.FlowNodeStateWaiting,
			Stable:               true,
		},
	}
	require.NoError(t, store.CreateGatewayInstance(ctx, gateway))

	// a merged-but-not-terminal gateway still counts toward scope activity
	gateway.Finished = true
	require.NoError(t, store.UpdateGatewayInstance(ctx, gateway))

	_, err := store.GetActiveGatewayInstance(ctx, 1, 4)
	assert.ErrorIs(t, err, persistence.ErrNotFound, "finished instance no longer accepts tokens")

	count, err := store.CountActiveFlowNodeInstances(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "finished gateway is active until its walk reaches a terminal state")

	// terminal gateway drops out of the active count
	gateway.State = data_models.FlowNodeStateCompleted
	gateway.Terminal = true
	require.NoError(t, store.UpdateGatewayInstance(ctx, gateway))

	count, err = store.CountActiveFlowNodeInstances(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGatewayHitBysAreCopied(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	gateway := &data_models.GatewayInstance{
		FlowNodeInstance: data_models.FlowNodeInstance{
			FlowNodeDefinitionID: 4,
			Type:                 definition.FlowNodeTypeGateway,
			ProcessInstanceID:    1,
			State:                data_models.FlowNodeStateWaiting,
		},
		HitBys: []int64{11},
	}
	require.NoError(t, store.CreateGatewayInstance(ctx, gateway))

	got, err := store.GetActiveGatewayInstance(ctx, 1, 4)
	require.NoError(t, err)
	got.HitBys[0] = 99

	again, err := store.GetActiveGatewayInstance(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, again.HitBys, "caller mutation must not leak into the store")
}

func TestProcessVariables(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.SetProcessVariable(ctx, 1, "amount", 200))
	require.NoError(t, store.SetProcessVariable(ctx, 1, "amount", 300))
	require.NoError(t, store.SetProcessVariable(ctx, 2, "amount", 1))

	vars, err := store.GetProcessVariables(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"amount": 300}, vars)

	empty, err := store.GetProcessVariables(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestWaitingErrorEvents(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	boundary := &data_models.WaitingErrorEvent{
		ProcessInstanceID:         1,
		EventType:                 data_models.WaitingEventTypeBoundaryEvent,
		FlowNodeDefinitionID:      4,
		RelatedActivityInstanceID: 55,
	}
	esp := &data_models.WaitingErrorEvent{
		ProcessInstanceID:    1,
		EventType:            data_models.WaitingEventTypeEventSubProcess,
		FlowNodeDefinitionID: 6,
	}
	require.NoError(t, store.CreateWaitingErrorEvent(ctx, boundary))
	require.NoError(t, store.CreateWaitingErrorEvent(ctx, esp))
	assert.True(t, boundary.Active)

	byActivity, err := store.ListBoundaryWaitingEvents(ctx, 55)
	require.NoError(t, err)
	require.Len(t, byActivity, 1)
	assert.Equal(t, boundary.ID, byActivity[0].ID)

	byType, err := store.ListWaitingErrorEvents(ctx, 1, data_models.WaitingEventTypeEventSubProcess)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, esp.ID, byType[0].ID)

	require.NoError(t, store.DeleteWaitingErrorEvent(ctx, boundary.ID))
	byActivity, err = store.ListBoundaryWaitingEvents(ctx, 55)
	require.NoError(t, err)
	assert.Empty(t, byActivity)

	require.NoError(t, store.DeleteWaitingEventsOfProcessInstance(ctx, 1))
	byType, err = store.ListWaitingErrorEvents(ctx, 1, data_models.WaitingEventTypeEventSubProcess)
	require.NoError(t, err)
	assert.Empty(t, byType)
}
