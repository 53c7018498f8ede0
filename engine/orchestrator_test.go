// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procflowio/procflow/common/log"
	"github.com/procflowio/procflow/common/ptr"
	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/expression"
	"github.com/procflowio/procflow/locker"
	"github.com/procflowio/procflow/persistence/data_models"
	"github.com/procflowio/procflow/persistence/memory"
)

// queueDispatcher collects dispatched work so tests drive execution
// deterministically, one descriptor at a time. Dispatch is goroutine safe so
// tests can process work items concurrently.
type queueDispatcher struct {
	mu    sync.Mutex
	queue []WorkDescriptor
}

func (d *queueDispatcher) Dispatch(work WorkDescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, work)
	return nil
}
func (d *queueDispatcher) Start() error                 { return nil }
func (d *queueDispatcher) Stop(_ context.Context) error { return nil }

func (d *queueDispatcher) take() (WorkDescriptor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return WorkDescriptor{}, false
	}
	work := d.queue[0]
	d.queue = d.queue[1:]
	return work, true
}

func (d *queueDispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

type testEnv struct {
	store        *memory.Store
	dispatcher   *queueDispatcher
	orchestrator *ProcessOrchestrator
}

func newTestEnv() *testEnv {
	store := memory.NewStore()
	dispatcher := &queueDispatcher{}
	logger := log.NewDevelopmentLogger()
	orchestrator := NewProcessOrchestrator(
		store, store, store,
		expression.NewJSEvaluator(),
		locker.NewInMemoryLocker(),
		dispatcher,
		NewLoggingConnectorExecutor(logger),
		logger,
	)
	return &testEnv{store: store, dispatcher: dispatcher, orchestrator: orchestrator}
}

// drain processes queued work until the engine is quiescent.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; ; i++ {
		require.Less(t, i, 10000, "work queue did not drain, likely a dispatch loop")
		work, ok := e.dispatcher.take()
		if !ok {
			return
		}
		require.NoError(t, e.orchestrator.ProcessWork(ctx, work))
	}
}

func (e *testEnv) processState(t *testing.T, id int64) *data_models.ProcessInstance {
	t.Helper()
	instance, err := e.store.GetProcessInstance(context.Background(), id)
	require.NoError(t, err)
	return instance
}

// archivedByDef indexes the archived flow nodes of a process instance by
// definition id.
func (e *testEnv) archivedByDef(processInstanceID int64) map[int64][]*data_models.FlowNodeInstance {
	out := map[int64][]*data_models.FlowNodeInstance{}
	for _, instance := range e.store.ArchivedFlowNodeInstances(processInstanceID) {
		out[instance.FlowNodeDefinitionID] = append(out[instance.FlowNodeDefinitionID], instance)
	}
	return out
}

func transition(id, source, target int64) *definition.TransitionDefinition {
	return &definition.TransitionDefinition{ID: id, Source: source, Target: target}
}

func condTransition(id, source, target int64, cond string) *definition.TransitionDefinition {
	return &definition.TransitionDefinition{ID: id, Source: source, Target: target, Condition: cond}
}

func sequentialDefinition() *definition.ProcessDefinition {
	return &definition.ProcessDefinition{
		ID:             1,
		Name:           "order-handling",
		Version:        "1.0",
		Enabled:        true,
		RequiredInputs: []string{"customer"},
		Data:           []definition.DataDefinition{{Name: "greeting", DefaultValueExpression: `"hello"`}},
		Container: &definition.ContainerDefinition{
			ID: 100,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 1, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{11}},
				{ID: 2, Name: "handle", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{11}, Outgoing: []int64{12}},
				{ID: 3, Name: "end", Type: definition.FlowNodeTypeEndEvent, Incoming: []int64{12}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(11, 1, 2),
				transition(12, 2, 3),
			},
		},
	}
}

func TestSequentialProcessCompletes(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(sequentialDefinition())

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{
		ProcessDefinitionID: 1,
		Inputs:              map[string]interface{}{"customer": "acme"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.NotNil(t, resp.ExternalID)

	env.drain(t)

	instance := env.processState(t, resp.ProcessInstanceID)
	assert.Equal(t, data_models.ProcessInstanceStateCompleted, instance.State)

	variables, err := env.store.GetProcessVariables(context.Background(), resp.ProcessInstanceID)
	require.NoError(t, err)
	assert.Equal(t, "acme", variables["customer"])
	assert.Equal(t, "hello", variables["greeting"])

	archived := env.archivedByDef(resp.ProcessInstanceID)
	assert.Len(t, archived, 3)
	for _, instances := range archived {
		require.Len(t, instances, 1)
		assert.Equal(t, data_models.FlowNodeStateCompleted, instances[0].State)
	}
}

func TestDuplicateWorkDeliveryIsNoOp(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(sequentialDefinition())
	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{
		ProcessDefinitionID: 1,
		Inputs:              map[string]interface{}{"customer": "acme"},
	})
	require.NoError(t, err)
	env.drain(t)

	archived := env.store.ArchivedFlowNodeInstances(resp.ProcessInstanceID)
	require.NotEmpty(t, archived)

	// re-deliver work for a finished node
	err = env.orchestrator.ProcessWork(context.Background(), WorkDescriptor{
		Type:                WorkTypeExecuteFlowNode,
		ProcessDefinitionID: 1,
		ProcessInstanceID:   resp.ProcessInstanceID,
		FlowNodeInstanceID:  archived[0].ID,
	})
	assert.NoError(t, err)
	assert.Zero(t, env.dispatcher.pending())
	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
}

func TestStartProcessContractViolation(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(sequentialDefinition())

	_, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{
		ProcessDefinitionID: 1,
		Inputs:              map[string]interface{}{},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContractViolation)
}

func TestStartProcessDisabled(t *testing.T) {
	env := newTestEnv()
	def := sequentialDefinition()
	def.Enabled = false
	env.store.RegisterProcessDefinition(def)

	_, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{
		ProcessDefinitionID: 1,
		Inputs:              map[string]interface{}{"customer": "acme"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessDisabled)
}

func exclusiveDefinition() *definition.ProcessDefinition {
	return &definition.ProcessDefinition{
		ID:      1,
		Name:    "payment-routing",
		Version: "1.0",
		Enabled: true,
		Container: &definition.ContainerDefinition{
			ID: 100,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 1, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{11}},
				{ID: 2, Name: "classify", Type: definition.FlowNodeTypeAutomaticTask,
					Incoming: []int64{11}, Outgoing: []int64{12}, DefaultTransition: 13},
				{ID: 3, Name: "large", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{12}, Outgoing: []int64{14}},
				{ID: 4, Name: "small", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{13}, Outgoing: []int64{15}},
				{ID: 5, Name: "merge", Type: definition.FlowNodeTypeGateway,
					GatewayType: definition.GatewayTypeExclusive,
					Incoming:    []int64{14, 15}, Outgoing: []int64{16}},
				{ID: 6, Name: "end", Type: definition.FlowNodeTypeEndEvent, Incoming: []int64{16}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(11, 1, 2),
				condTransition(12, 2, 3, "amount > 100"),
				transition(13, 2, 4),
				transition(14, 3, 5),
				transition(15, 4, 5),
				transition(16, 5, 6),
			},
		},
	}
}

func TestExclusiveGatewayConditionedRouting(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(exclusiveDefinition())

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{
		ProcessDefinitionID: 1,
		Inputs:              map[string]interface{}{"amount": 200},
	})
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	assert.Len(t, archived[3], 1, "conditioned branch should run")
	assert.Empty(t, archived[4], "default branch should not run")
	assert.Len(t, archived[6], 1, "end should run exactly once")
}

func TestExclusiveGatewayDefaultTransition(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(exclusiveDefinition())

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{
		ProcessDefinitionID: 1,
		Inputs:              map[string]interface{}{"amount": 50},
	})
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	assert.Empty(t, archived[3])
	assert.Len(t, archived[4], 1, "default branch should run when no condition matches")
}

func forkJoinDefinition() *definition.ProcessDefinition {
	return &definition.ProcessDefinition{
		ID:      1,
		Name:    "fork-join",
		Version: "1.0",
		Enabled: true,
		Container: &definition.ContainerDefinition{
			ID: 100,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 1, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{11, 12}},
				{ID: 2, Name: "left", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{11}, Outgoing: []int64{13}},
				{ID: 3, Name: "right", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{12}, Outgoing: []int64{14}},
				{ID: 4, Name: "join", Type: definition.FlowNodeTypeGateway,
					GatewayType: definition.GatewayTypeParallel,
					Incoming:    []int64{13, 14}, Outgoing: []int64{15}},
				{ID: 5, Name: "end", Type: definition.FlowNodeTypeEndEvent, Incoming: []int64{15}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(11, 1, 2),
				transition(12, 1, 3),
				transition(13, 2, 4),
				transition(14, 3, 4),
				transition(15, 4, 5),
			},
		},
	}
}

func TestParallelGatewayMergesOnce(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(forkJoinDefinition())

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{ProcessDefinitionID: 1})
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	assert.Len(t, archived[4], 1, "the join must merge exactly once")
	assert.Len(t, archived[5], 1, "downstream of the join must execute exactly once")
}

func TestParallelGatewayMergesOnceUnderConcurrentCompletion(t *testing.T) {
	for i := 0; i < 50; i++ {
		env := newTestEnv()
		env.store.RegisterProcessDefinition(forkJoinDefinition())

		resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{ProcessDefinitionID: 1})
		require.NoError(t, err)

		// run the start event, leaving exactly the two branch work items queued
		startWork, ok := env.dispatcher.take()
		require.True(t, ok)
		require.NoError(t, env.orchestrator.ProcessWork(context.Background(), startWork))
		leftWork, ok := env.dispatcher.take()
		require.True(t, ok)
		rightWork, ok := env.dispatcher.take()
		require.True(t, ok)
		require.Zero(t, env.dispatcher.pending())

		// both branches complete at the same time and race into the join
		var wg sync.WaitGroup
		for _, work := range []WorkDescriptor{leftWork, rightWork} {
			wg.Add(1)
			go func(work WorkDescriptor) {
				defer wg.Done()
				assert.NoError(t, env.orchestrator.ProcessWork(context.Background(), work))
			}(work)
		}
		wg.Wait()
		env.drain(t)

		assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
		archived := env.archivedByDef(resp.ProcessInstanceID)
		require.Len(t, archived[4], 1, "the join must merge exactly once under concurrent hits")
		require.Len(t, archived[5], 1, "downstream of the join must execute exactly once")
	}
}

func TestInclusiveGatewayFiresAfterBranchDeath(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(&definition.ProcessDefinition{
		ID:      1,
		Name:    "optional-branches",
		Version: "1.0",
		Enabled: true,
		Container: &definition.ContainerDefinition{
			ID: 100,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 1, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{11}},
				{ID: 2, Name: "decide", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{11}, Outgoing: []int64{12, 13}},
				{ID: 3, Name: "notify", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{12}, Outgoing: []int64{14}},
				{ID: 4, Name: "audit", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{13}, Outgoing: []int64{15}},
				{ID: 5, Name: "join", Type: definition.FlowNodeTypeGateway,
					GatewayType: definition.GatewayTypeInclusive,
					Incoming:    []int64{14, 15}, Outgoing: []int64{16}},
				{ID: 6, Name: "end", Type: definition.FlowNodeTypeEndEvent, Incoming: []int64{16}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(11, 1, 2),
				condTransition(12, 2, 3, "x > 10"),
				condTransition(13, 2, 4, "x > 100"),
				transition(14, 3, 5),
				transition(15, 4, 5),
				transition(16, 5, 6),
			},
		},
	})

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{
		ProcessDefinitionID: 1,
		Inputs:              map[string]interface{}{"x": 50},
	})
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	assert.Len(t, archived[3], 1, "live branch should run")
	assert.Empty(t, archived[4], "dead branch should not run")
	assert.Len(t, archived[5], 1, "inclusive join must fire once the other branch is provably dead")
	assert.Len(t, archived[6], 1)
}

func userTaskDefinition() *definition.ProcessDefinition {
	return &definition.ProcessDefinition{
		ID:      1,
		Name:    "approval",
		Version: "1.0",
		Enabled: true,
		Container: &definition.ContainerDefinition{
			ID: 100,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 1, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{11}},
				{ID: 2, Name: "approve", Type: definition.FlowNodeTypeUserTask, Incoming: []int64{11}, Outgoing: []int64{12}},
				{ID: 3, Name: "end", Type: definition.FlowNodeTypeEndEvent, Incoming: []int64{12}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(11, 1, 2),
				transition(12, 2, 3),
			},
		},
	}
}

func TestUserTaskParksThenCompletes(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(userTaskDefinition())
	ctx := context.Background()

	resp, err := env.orchestrator.StartProcess(ctx, StartProcessRequest{ProcessDefinitionID: 1})
	require.NoError(t, err)
	env.drain(t)

	instance := env.processState(t, resp.ProcessInstanceID)
	assert.Equal(t, data_models.ProcessInstanceStateStarted, instance.State)

	active, err := env.store.ListActiveFlowNodeInstances(ctx, resp.ProcessInstanceID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	userTask := active[0]
	assert.Equal(t, data_models.FlowNodeStateWaiting, userTask.State)

	// duplicate delivery while parked must not advance the task
	require.NoError(t, env.orchestrator.ProcessWork(ctx, WorkDescriptor{
		Type:               WorkTypeExecuteFlowNode,
		ProcessInstanceID:  resp.ProcessInstanceID,
		FlowNodeInstanceID: userTask.ID,
	}))
	env.drain(t)
	assert.Equal(t, data_models.ProcessInstanceStateStarted, env.processState(t, resp.ProcessInstanceID).State)

	err = env.orchestrator.CompleteUserTask(ctx, userTask.ID, map[string]interface{}{"approved": true})
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	variables, err := env.store.GetProcessVariables(ctx, resp.ProcessInstanceID)
	require.NoError(t, err)
	assert.Equal(t, true, variables["approved"])

	// completing again must be rejected
	err = env.orchestrator.CompleteUserTask(ctx, userTask.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func boundaryCatchDefinition() *definition.ProcessDefinition {
	return &definition.ProcessDefinition{
		ID:      1,
		Name:    "fulfillment",
		Version: "1.0",
		Enabled: true,
		Container: &definition.ContainerDefinition{
			ID: 100,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 1, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{11}},
				{ID: 2, Name: "ship", Type: definition.FlowNodeTypeSubProcess,
					Incoming: []int64{11}, Outgoing: []int64{12},
					BoundaryEvents: []int64{3},
					Container: &definition.ContainerDefinition{
						ID: 200,
						FlowNodes: []*definition.FlowNodeDefinition{
							{ID: 6, Name: "ship-start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{21}},
							{ID: 7, Name: "out-of-stock", Type: definition.FlowNodeTypeEndEvent,
								EndEventKind: definition.EndEventKindError, ErrorCode: ptr.Any("404"),
								Incoming: []int64{21}},
						},
						Transitions: []*definition.TransitionDefinition{
							transition(21, 6, 7),
						},
					},
				},
				{ID: 3, Name: "on-out-of-stock", Type: definition.FlowNodeTypeBoundaryEvent,
					AttachedToID: 2, ErrorCode: ptr.Any("404"), Outgoing: []int64{13}},
				{ID: 4, Name: "recover", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{13}, Outgoing: []int64{14}},
				{ID: 5, Name: "end", Type: definition.FlowNodeTypeEndEvent, Incoming: []int64{12, 14}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(11, 1, 2),
				transition(12, 2, 5),
				transition(13, 3, 4),
				transition(14, 4, 5),
			},
		},
	}
}

func TestBoundaryEventCatchesSubProcessError(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(boundaryCatchDefinition())

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{ProcessDefinitionID: 1})
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	require.Len(t, archived[2], 1)
	assert.Equal(t, data_models.FlowNodeStateAborted, archived[2][0].State, "guarded activity must be aborted")
	require.Len(t, archived[3], 1)
	assert.Equal(t, data_models.FlowNodeStateCompleted, archived[3][0].State, "boundary event must complete")
	assert.Len(t, archived[4], 1, "recovery branch must run")
	assert.Len(t, archived[5], 1, "only the boundary path reaches the end")
}

func TestBoundaryEventShadowsEventSubProcess(t *testing.T) {
	// the thrown code matches both the boundary event on the enclosing
	// activity and an event sub-process of the throwing scope itself;
	// the boundary catcher must win
	def := boundaryCatchDefinition()
	body := def.Container.FlowNodes[1].Container
	body.FlowNodes = append(body.FlowNodes, &definition.FlowNodeDefinition{
		ID: 8, Name: "also-on-out-of-stock", Type: definition.FlowNodeTypeSubProcess,
		TriggeredByEvent: true,
		Container: &definition.ContainerDefinition{
			ID: 300,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 30, Name: "catch", Type: definition.FlowNodeTypeStartEvent,
					ErrorCode: ptr.Any("404"), Outgoing: []int64{41}},
				{ID: 31, Name: "fallback", Type: definition.FlowNodeTypeEndEvent, Incoming: []int64{41}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(41, 30, 31),
			},
		},
	})

	env := newTestEnv()
	env.store.RegisterProcessDefinition(def)

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{ProcessDefinitionID: 1})
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	require.Len(t, archived[3], 1)
	assert.Equal(t, data_models.FlowNodeStateCompleted, archived[3][0].State, "boundary event must catch")
	assert.Len(t, archived[4], 1, "boundary recovery branch must run")
	// an event-sub-process catch would have completed the guarded activity
	// normally instead; ABORTED proves the boundary path was taken
	require.Len(t, archived[2], 1)
	assert.Equal(t, data_models.FlowNodeStateAborted, archived[2][0].State)
	assert.Len(t, archived[5], 1, "exactly one catcher fires, so the end runs once")
}

func TestEventSubProcessCatchesError(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(&definition.ProcessDefinition{
		ID:      1,
		Name:    "billing",
		Version: "1.0",
		Enabled: true,
		Container: &definition.ContainerDefinition{
			ID: 100,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 1, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{11}},
				{ID: 2, Name: "charge-failed", Type: definition.FlowNodeTypeEndEvent,
					EndEventKind: definition.EndEventKindError, ErrorCode: ptr.Any("500"),
					Incoming: []int64{11}},
				{ID: 10, Name: "on-charge-failed", Type: definition.FlowNodeTypeSubProcess,
					TriggeredByEvent: true,
					Container: &definition.ContainerDefinition{
						ID: 200,
						FlowNodes: []*definition.FlowNodeDefinition{
							{ID: 11, Name: "catch", Type: definition.FlowNodeTypeStartEvent,
								ErrorCode: ptr.Any("500"), Outgoing: []int64{21}},
							{ID: 12, Name: "refund", Type: definition.FlowNodeTypeAutomaticTask, Incoming: []int64{21}, Outgoing: []int64{22}},
							{ID: 13, Name: "handled", Type: definition.FlowNodeTypeEndEvent, Incoming: []int64{22}},
						},
						Transitions: []*definition.TransitionDefinition{
							transition(21, 11, 12),
							transition(22, 12, 13),
						},
					},
				},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(11, 1, 2),
			},
		},
	})

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{ProcessDefinitionID: 1})
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	require.Len(t, archived[10], 1, "event sub-process must trigger")
	assert.Equal(t, data_models.FlowNodeStateCompleted, archived[10][0].State)
	assert.Len(t, archived[2], 1, "throw event is archived after correlation")
}

func TestUnhandledErrorActsAsTerminate(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(&definition.ProcessDefinition{
		ID:      1,
		Name:    "review",
		Version: "1.0",
		Enabled: true,
		Container: &definition.ContainerDefinition{
			ID: 100,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 1, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{11, 12}},
				{ID: 2, Name: "wait-review", Type: definition.FlowNodeTypeUserTask, Incoming: []int64{11}},
				{ID: 3, Name: "fatal", Type: definition.FlowNodeTypeEndEvent,
					EndEventKind: definition.EndEventKindError, ErrorCode: ptr.Any("999"),
					Incoming: []int64{12}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(11, 1, 2),
				transition(12, 1, 3),
			},
		},
	})

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{ProcessDefinitionID: 1})
	require.NoError(t, err)
	env.drain(t)

	// with no catcher anywhere, the throw degrades to terminate semantics
	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	require.Len(t, archived[2], 1)
	assert.Equal(t, data_models.FlowNodeStateAborted, archived[2][0].State, "parked sibling must be aborted")
}

func TestTerminateEndEventAbortsSiblings(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(&definition.ProcessDefinition{
		ID:      1,
		Name:    "escalation",
		Version: "1.0",
		Enabled: true,
		Container: &definition.ContainerDefinition{
			ID: 100,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 1, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{11, 12}},
				{ID: 2, Name: "wait", Type: definition.FlowNodeTypeUserTask, Incoming: []int64{11}},
				{ID: 3, Name: "terminate", Type: definition.FlowNodeTypeEndEvent,
					EndEventKind: definition.EndEventKindTerminate, Incoming: []int64{12}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(11, 1, 2),
				transition(12, 1, 3),
			},
		},
	})

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{ProcessDefinitionID: 1})
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	require.Len(t, archived[2], 1)
	assert.Equal(t, data_models.FlowNodeStateAborted, archived[2][0].State)
}

func TestCallActivityRunsTargetProcess(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(&definition.ProcessDefinition{
		ID:      2,
		Name:    "invoicing",
		Version: "1.0",
		Enabled: true,
		Container: &definition.ContainerDefinition{
			ID: 300,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 21, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{31}},
				{ID: 22, Name: "end", Type: definition.FlowNodeTypeEndEvent, Incoming: []int64{31}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(31, 21, 22),
			},
		},
	})
	env.store.RegisterProcessDefinition(&definition.ProcessDefinition{
		ID:      1,
		Name:    "checkout",
		Version: "1.0",
		Enabled: true,
		Container: &definition.ContainerDefinition{
			ID: 100,
			FlowNodes: []*definition.FlowNodeDefinition{
				{ID: 1, Name: "start", Type: definition.FlowNodeTypeStartEvent, Outgoing: []int64{11}},
				{ID: 2, Name: "invoice", Type: definition.FlowNodeTypeCallActivity,
					TargetProcessName: "invoicing",
					Incoming:          []int64{11}, Outgoing: []int64{12}},
				{ID: 3, Name: "end", Type: definition.FlowNodeTypeEndEvent, Incoming: []int64{12}},
			},
			Transitions: []*definition.TransitionDefinition{
				transition(11, 1, 2),
				transition(12, 2, 3),
			},
		},
	})
	ctx := context.Background()

	resp, err := env.orchestrator.StartProcess(ctx, StartProcessRequest{ProcessDefinitionID: 1})
	require.NoError(t, err)
	env.drain(t)

	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	require.Len(t, archived[2], 1)
	assert.Equal(t, data_models.FlowNodeStateCompleted, archived[2][0].State)
}

func TestCancelProcessInstance(t *testing.T) {
	env := newTestEnv()
	env.store.RegisterProcessDefinition(userTaskDefinition())
	ctx := context.Background()

	resp, err := env.orchestrator.StartProcess(ctx, StartProcessRequest{ProcessDefinitionID: 1})
	require.NoError(t, err)
	env.drain(t)

	require.NoError(t, env.orchestrator.CancelProcessInstance(ctx, resp.ProcessInstanceID))
	env.drain(t)

	instance := env.processState(t, resp.ProcessInstanceID)
	assert.Equal(t, data_models.ProcessInstanceStateCancelled, instance.State)
	archived := env.archivedByDef(resp.ProcessInstanceID)
	require.Len(t, archived[2], 1)
	assert.Equal(t, data_models.FlowNodeStateCancelled, archived[2][0].State)

	// cancelling a terminal instance is a no-op
	assert.NoError(t, env.orchestrator.CancelProcessInstance(ctx, resp.ProcessInstanceID))
}

func TestConnectorsRunAroundProcess(t *testing.T) {
	env := newTestEnv()
	def := sequentialDefinition()
	def.RequiredInputs = nil
	def.Connectors = []definition.ConnectorDefinition{
		{ID: "c-enter", Name: "announce", ActivationEvent: definition.ConnectorOnEnter},
		{ID: "c-finish", Name: "report", ActivationEvent: definition.ConnectorOnFinish},
	}
	env.store.RegisterProcessDefinition(def)

	resp, err := env.orchestrator.StartProcess(context.Background(), StartProcessRequest{ProcessDefinitionID: 1})
	require.NoError(t, err)

	// start is deferred until the on-enter connectors ran
	assert.Equal(t, data_models.ProcessInstanceStateInitializing, env.processState(t, resp.ProcessInstanceID).State)

	env.drain(t)
	assert.Equal(t, data_models.ProcessInstanceStateCompleted, env.processState(t, resp.ProcessInstanceID).State)
}
