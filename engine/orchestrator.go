// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/procflowio/procflow/common/log"
	"github.com/procflowio/procflow/common/log/tag"
	"github.com/procflowio/procflow/common/uuid"
	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/expression"
	"github.com/procflowio/procflow/locker"
	"github.com/procflowio/procflow/persistence"
	"github.com/procflowio/procflow/persistence/data_models"
)

// ProcessOrchestrator drives process instances from start to completion:
// it creates instances, starts the first executable flow nodes, receives
// child-finished notifications, merges gateways, correlates interrupting
// events and decides completion. It is stateless between calls; all durable
// state lives in the stores, so any worker can run any operation.
type ProcessOrchestrator struct {
	definitionStore   persistence.DefinitionStore
	instanceStore     persistence.InstanceStore
	waitingEventStore persistence.WaitingEventStore
	evaluator         expression.Evaluator
	locker            locker.Service
	dispatcher        WorkDispatcher
	connectors        ConnectorExecutor
	logger            log.Logger

	stateMachine *StateMachine
	transitions  *TransitionEvaluator
	gateways     *GatewayMerger
	correlator   *EventCorrelator
}

var _ WorkProcessor = (*ProcessOrchestrator)(nil)
var _ scopeServices = (*ProcessOrchestrator)(nil)

func NewProcessOrchestrator(
	definitionStore persistence.DefinitionStore,
	instanceStore persistence.InstanceStore,
	waitingEventStore persistence.WaitingEventStore,
	evaluator expression.Evaluator,
	lockService locker.Service,
	dispatcher WorkDispatcher,
	connectors ConnectorExecutor,
	logger log.Logger,
) *ProcessOrchestrator {
	stateMachine := NewStateMachine()
	correlator := NewEventCorrelator(definitionStore, instanceStore, waitingEventStore, logger)
	o := &ProcessOrchestrator{
		definitionStore:   definitionStore,
		instanceStore:     instanceStore,
		waitingEventStore: waitingEventStore,
		evaluator:         evaluator,
		locker:            lockService,
		dispatcher:        dispatcher,
		connectors:        connectors,
		logger:            logger,
		stateMachine:      stateMachine,
		transitions:       NewTransitionEvaluator(evaluator, instanceStore),
		gateways:          NewGatewayMerger(instanceStore, stateMachine, logger),
		correlator:        correlator,
	}
	correlator.setScopeServices(o)
	return o
}

type StartProcessRequest struct {
	ProcessDefinitionID int64
	Inputs              map[string]interface{}
}

type StartProcessResponse struct {
	ProcessInstanceID int64
	ExternalID        uuid.UUID
}

// StartProcess creates and starts a root process instance.
// Any collaborator fault during start aborts instance creation; no partially
// initialized instance is left startable.
func (o *ProcessOrchestrator) StartProcess(ctx context.Context, request StartProcessRequest) (*StartProcessResponse, error) {
	def, err := o.definitionStore.GetProcessDefinition(ctx, request.ProcessDefinitionID)
	if err != nil {
		return nil, err
	}
	if !def.Enabled {
		return nil, wrapError(
			fmt.Errorf("%w: process %q version %q", ErrProcessDisabled, def.Name, def.Version),
			defErrorContext(def))
	}
	if err := validateContractInputs(def, request.Inputs); err != nil {
		return nil, wrapError(err, defErrorContext(def))
	}

	instance, err := o.startProcessInstance(ctx, def, def.Container, request.Inputs, nil, 0, data_models.CallerTypeNone)
	if err != nil {
		return nil, err
	}
	return &StartProcessResponse{
		ProcessInstanceID: instance.ID,
		ExternalID:        instance.ExternalID,
	}, nil
}

// startChildProcess starts a nested scope: a sub-process body, an event
// sub-process body, or a call-activity target. The caller flow-node instance
// parks until the child reaches a terminal state.
func (o *ProcessOrchestrator) startChildProcess(
	ctx context.Context,
	def *definition.ProcessDefinition,
	container *definition.ContainerDefinition,
	caller *data_models.FlowNodeInstance,
	callerProcess *data_models.ProcessInstance,
	callerType data_models.CallerType,
) (*data_models.ProcessInstance, error) {
	// nested scopes inherit the caller scope's variables
	variables, err := o.instanceStore.GetProcessVariables(ctx, callerProcess.ID)
	if err != nil {
		return nil, err
	}
	return o.startProcessInstance(ctx, def, container, variables, callerProcess, caller.ID, callerType)
}

func (o *ProcessOrchestrator) startProcessInstance(
	ctx context.Context,
	def *definition.ProcessDefinition,
	container *definition.ContainerDefinition,
	inputs map[string]interface{},
	callerProcess *data_models.ProcessInstance,
	callerFlowNodeInstanceID int64,
	callerType data_models.CallerType,
) (*data_models.ProcessInstance, error) {
	instance := &data_models.ProcessInstance{
		ProcessDefinitionID:      def.ID,
		CallerFlowNodeInstanceID: callerFlowNodeInstanceID,
		CallerType:               callerType,
		State:                    data_models.ProcessInstanceStateInitializing,
		StateCategory:            data_models.StateCategoryNormal,
	}
	if callerProcess != nil {
		instance.CallerProcessInstanceID = callerProcess.ID
		instance.RootProcessInstanceID = callerProcess.RootProcessInstanceID
	}
	if err := o.instanceStore.CreateProcessInstance(ctx, instance); err != nil {
		return nil, wrapError(err, defErrorContext(def))
	}

	if err := o.initializeVariables(ctx, def, instance, inputs); err != nil {
		return nil, wrapError(err, instanceErrorContext(def, instance))
	}
	if err := o.correlator.RegisterEventSubProcesses(ctx, container, instance); err != nil {
		return nil, wrapError(err, instanceErrorContext(def, instance))
	}

	// on-enter connectors only guard top-level process starts, not nested
	// scope bodies
	if callerType == data_models.CallerTypeNone || callerType == data_models.CallerTypeCallActivity {
		if len(def.ConnectorsFor(definition.ConnectorOnEnter)) > 0 {
			err := o.dispatcher.Dispatch(WorkDescriptor{
				ID:                  uuid.MustNewUUID(),
				Type:                WorkTypeExecuteConnectors,
				ProcessDefinitionID: def.ID,
				ProcessInstanceID:   instance.ID,
				ConnectorEvent:      definition.ConnectorOnEnter,
			})
			if err != nil {
				return nil, wrapError(err, instanceErrorContext(def, instance))
			}
			o.logger.Info("process start deferred until on-enter connectors complete",
				tag.ProcessInstanceId(instance.ID), tag.ProcessName(def.Name))
			return instance, nil
		}
	}

	if err := o.startElements(ctx, def, container, instance); err != nil {
		return nil, wrapError(err, instanceErrorContext(def, instance))
	}
	return instance, nil
}

// initializeVariables persists the start inputs, then the declared data
// defaults that the inputs did not override.
func (o *ProcessOrchestrator) initializeVariables(
	ctx context.Context,
	def *definition.ProcessDefinition,
	instance *data_models.ProcessInstance,
	inputs map[string]interface{},
) error {
	for name, value := range inputs {
		if err := o.instanceStore.SetProcessVariable(ctx, instance.ID, name, value); err != nil {
			return err
		}
	}
	for _, dataDef := range def.Data {
		if dataDef.DefaultValueExpression == "" {
			continue
		}
		if _, overridden := inputs[dataDef.Name]; overridden {
			continue
		}
		value, err := o.evaluator.Evaluate(ctx, dataDef.DefaultValueExpression, inputs)
		if err != nil {
			return err
		}
		if err := o.instanceStore.SetProcessVariable(ctx, instance.ID, dataDef.Name, value); err != nil {
			return err
		}
	}
	return nil
}

// startElements instantiates and dispatches the container's start nodes.
// An empty initial set completes the instance immediately.
func (o *ProcessOrchestrator) startElements(
	ctx context.Context,
	def *definition.ProcessDefinition,
	container *definition.ContainerDefinition,
	instance *data_models.ProcessInstance,
) error {
	starts := container.StartNodes()
	if len(starts) == 0 {
		return o.finalizeProcess(ctx, def, instance, data_models.ProcessInstanceStateCompleted)
	}

	err := o.instanceStore.UpdateProcessInstanceState(
		ctx, instance.ID, data_models.ProcessInstanceStateStarted, data_models.StateCategoryNormal)
	if err != nil {
		return err
	}
	instance.State = data_models.ProcessInstanceStateStarted

	for _, startDef := range starts {
		flowNode, err := o.instantiateFlowNode(ctx, def, startDef, instance, 0)
		if err != nil {
			return err
		}
		if err := o.dispatchFlowNode(flowNode); err != nil {
			return err
		}
	}
	o.logger.Info("process instance started",
		tag.ProcessInstanceId(instance.ID),
		tag.ProcessName(def.Name),
		tag.ProcessVersion(def.Version))
	return nil
}

// ChildFinished is invoked when a flow-node instance of the process reaches a
// terminal state: it archives the child, takes its outgoing transitions, and
// evaluates process completion. Faults propagate to the work-dispatch layer,
// which owns the retry policy.
func (o *ProcessOrchestrator) ChildFinished(ctx context.Context, processInstanceID int64, flowNodeInstanceID int64) error {
	instance, err := o.instanceStore.GetProcessInstance(ctx, processInstanceID)
	if err != nil {
		return err
	}
	def, err := o.definitionStore.GetProcessDefinition(ctx, instance.ProcessDefinitionID)
	if err != nil {
		return err
	}
	child, err := o.instanceStore.GetFlowNodeInstance(ctx, flowNodeInstanceID)
	if err != nil {
		return err
	}
	container, err := containerOfInstance(ctx, o.instanceStore, def, instance)
	if err != nil {
		return wrapError(err, instanceErrorContext(def, instance))
	}
	nodeDef, ok := container.FlowNodeByID(child.FlowNodeDefinitionID)
	if !ok {
		return wrapError(
			fmt.Errorf("flow node definition %v is not in the scope container", child.FlowNodeDefinitionID),
			instanceErrorContext(def, instance))
	}

	if err := o.archiveFinishedChild(ctx, instance, child, nodeDef); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			// duplicate delivery: the child was already archived by an earlier run
			return nil
		}
		return wrapError(err, flowNodeErrorContext(def, instance, nodeDef))
	}

	if child.State == data_models.FlowNodeStateCompleted {
		if err := o.executeOutgoing(ctx, def, container, instance, nodeDef); err != nil {
			return err
		}
	}

	count, err := o.instanceStore.CountActiveFlowNodeInstances(ctx, instance.ID)
	if err != nil {
		return wrapError(err, instanceErrorContext(def, instance))
	}
	if count > 0 {
		return nil
	}
	return o.handleProcessCompletion(ctx, def, instance.ID)
}

// archiveFinishedChild archives the terminal child and cleans its catcher
// registrations. The archiving of an error throw event that is the active
// interruption cause is deferred to the interruption handler.
func (o *ProcessOrchestrator) archiveFinishedChild(
	ctx context.Context,
	instance *data_models.ProcessInstance,
	child *data_models.FlowNodeInstance,
	nodeDef *definition.FlowNodeDefinition,
) error {
	if nodeDef.Type.IsActivity() {
		if err := o.correlator.UnregisterCatchersOfActivity(ctx, child.ID); err != nil {
			return err
		}
	}
	if child.ID == instance.InterruptingEventID {
		if isErrorThrowEvent(nodeDef) {
			return nil
		}
		// the interrupting catcher finished its job
		if err := o.instanceStore.SetInterruptingEventID(ctx, instance.ID, 0); err != nil {
			return err
		}
		instance.InterruptingEventID = 0
	}
	return o.instanceStore.ArchiveFlowNodeInstance(ctx, child.ID)
}

// executeOutgoing evaluates and takes the valid outgoing transitions of a
// completed node, then triggers inclusive re-evaluation when the branch died.
func (o *ProcessOrchestrator) executeOutgoing(
	ctx context.Context,
	def *definition.ProcessDefinition,
	container *definition.ContainerDefinition,
	instance *data_models.ProcessInstance,
	nodeDef *definition.FlowNodeDefinition,
) error {
	// terminate and error end events both take the scope down: the remaining
	// active flow nodes move onto the abort sequence so the scope reaches its
	// completion decision
	if nodeDef.Type == definition.FlowNodeTypeEndEvent &&
		(nodeDef.EndEventKind == definition.EndEventKindTerminate || nodeDef.EndEventKind == definition.EndEventKindError) {
		if err := o.abortProcessFlowNodes(ctx, instance.ID, 0); err != nil {
			return wrapError(err, flowNodeErrorContext(def, instance, nodeDef))
		}
		return nil
	}

	wrapper, err := o.transitions.EvaluateOutgoing(ctx, container, nodeDef, instance.ID)
	if err != nil {
		return wrapError(err, flowNodeErrorContext(def, instance, nodeDef))
	}
	if err := o.executeValidOutgoingTransitions(ctx, def, container, instance, wrapper); err != nil {
		return err
	}

	branchDied := len(wrapper.Valid) < wrapper.AllOutgoingCount
	if branchDied && containerHasInclusiveGateway(container) {
		if err := o.reevaluateInclusiveGateways(ctx, def, container, instance); err != nil {
			return wrapError(err, flowNodeErrorContext(def, instance, nodeDef))
		}
	}
	return nil
}

// executeValidOutgoingTransitions instantiates direct targets and feeds
// gateway targets into the merger, de-duplicating transitions of one
// completion event that hit the same inclusive gateway.
func (o *ProcessOrchestrator) executeValidOutgoingTransitions(
	ctx context.Context,
	def *definition.ProcessDefinition,
	container *definition.ContainerDefinition,
	instance *data_models.ProcessInstance,
	wrapper *TransitionsWrapper,
) error {
	type gatewayHit struct {
		gatewayDef   *definition.FlowNodeDefinition
		transitionID int64
	}
	var gatewayHits []gatewayHit
	seenInclusive := map[int64]bool{}

	for _, transition := range wrapper.Valid {
		target, ok := container.FlowNodeByID(transition.Target)
		if !ok {
			return wrapError(
				fmt.Errorf("transition %v targets flow node %v outside its container", transition.ID, transition.Target),
				instanceErrorContext(def, instance))
		}
		if target.Type != definition.FlowNodeTypeGateway {
			flowNode, err := o.instantiateFlowNode(ctx, def, target, instance, 0)
			if err != nil {
				return wrapError(err, flowNodeErrorContext(def, instance, target))
			}
			if err := o.dispatchFlowNode(flowNode); err != nil {
				return wrapError(err, flowNodeErrorContext(def, instance, target))
			}
			continue
		}
		if target.GatewayType == definition.GatewayTypeInclusive {
			if seenInclusive[target.ID] {
				// one completion event fires an inclusive gateway at most once
				o.logger.Debug("suppressed duplicate transition to inclusive gateway",
					tag.ProcessInstanceId(instance.ID),
					tag.GatewayName(target.Name),
					tag.TransitionName(transition.Name))
				continue
			}
			seenInclusive[target.ID] = true
		}
		gatewayHits = append(gatewayHits, gatewayHit{gatewayDef: target, transitionID: transition.ID})
	}

	for _, hit := range gatewayHits {
		if err := o.executeGateway(ctx, def, container, instance, hit.gatewayDef, hit.transitionID); err != nil {
			return wrapError(err, flowNodeErrorContext(def, instance, hit.gatewayDef))
		}
	}
	return nil
}

// executeGateway registers one incoming token on the gateway and fires it if
// the merge condition holds. Hit-accounting and merge-check run under the
// scope lock; the merged gateway's own execution is dispatched after release.
func (o *ProcessOrchestrator) executeGateway(
	ctx context.Context,
	def *definition.ProcessDefinition,
	container *definition.ContainerDefinition,
	instance *data_models.ProcessInstance,
	gatewayDef *definition.FlowNodeDefinition,
	transitionID int64,
) error {
	var merged *data_models.GatewayInstance
	lockKey := gatewayLockKey(instance.ID, gatewayDef.Name)
	err := o.locker.WithLock(ctx, lockKey, func() error {
		gateway, err := o.gateways.GetActiveOrCreate(ctx, gatewayDef, instance)
		if err != nil {
			return err
		}
		if err := o.gateways.HitTransition(ctx, gateway, transitionID); err != nil {
			return err
		}
		ok, err := o.gateways.CheckMergingCondition(ctx, container, gatewayDef, gateway)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := o.fireGateway(ctx, gateway); err != nil {
			return err
		}
		merged = gateway
		return nil
	})
	if err != nil {
		return err
	}
	if merged != nil {
		return o.dispatchFlowNode(&merged.FlowNodeInstance)
	}
	return nil
}

// fireGateway finalizes a satisfied gateway instance and moves it onto its
// execution step. Must run under the gateway's scope lock.
func (o *ProcessOrchestrator) fireGateway(ctx context.Context, gateway *data_models.GatewayInstance) error {
	if err := o.gateways.SetFinishAndCreateNewGatewayForRemainingToken(ctx, gateway); err != nil {
		return err
	}
	gateway.State = data_models.FlowNodeStateExecuting
	gateway.Stable = false
	return o.instanceStore.UpdateGatewayInstance(ctx, gateway)
}

// reevaluateInclusiveGateways fires the inclusive gateways whose waited-for
// branches died. Each candidate is re-checked under its scope lock because a
// concurrent completion may have fired it already.
func (o *ProcessOrchestrator) reevaluateInclusiveGateways(
	ctx context.Context,
	def *definition.ProcessDefinition,
	container *definition.ContainerDefinition,
	instance *data_models.ProcessInstance,
) error {
	candidates, err := o.gateways.InclusiveGatewaysThatShouldFire(ctx, container, instance.ID)
	if err != nil {
		return err
	}
	for _, candidate := range candidates {
		gatewayDef, ok := container.FlowNodeByID(candidate.FlowNodeDefinitionID)
		if !ok {
			continue
		}
		var merged *data_models.GatewayInstance
		lockKey := gatewayLockKey(instance.ID, gatewayDef.Name)
		err := o.locker.WithLock(ctx, lockKey, func() error {
			gateway, err := o.instanceStore.GetActiveGatewayInstance(ctx, instance.ID, gatewayDef.ID)
			if err != nil {
				if errors.Is(err, persistence.ErrNotFound) {
					return nil
				}
				return err
			}
			ok, err := o.gateways.CheckMergingCondition(ctx, container, gatewayDef, gateway)
			if err != nil || !ok {
				return err
			}
			if err := o.fireGateway(ctx, gateway); err != nil {
				return err
			}
			merged = gateway
			return nil
		})
		if err != nil {
			return err
		}
		if merged != nil {
			o.logger.Info("inclusive gateway fired after branch death",
				tag.ProcessInstanceId(instance.ID),
				tag.GatewayName(gatewayDef.Name))
			if err := o.dispatchFlowNode(&merged.FlowNodeInstance); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleProcessCompletion decides the terminal state of a process instance
// whose last flow node finished. If the completion coincides with an
// unresolved interruption, error correlation runs first and its outcome
// decides whether completion proceeds.
func (o *ProcessOrchestrator) handleProcessCompletion(
	ctx context.Context,
	def *definition.ProcessDefinition,
	processInstanceID int64,
) error {
	instance, err := o.instanceStore.GetProcessInstance(ctx, processInstanceID)
	if err != nil {
		return err
	}
	if instance.State.IsTerminal() {
		return nil
	}

	switch instance.StateCategory {
	case data_models.StateCategoryAborting:
		return o.finalizeProcess(ctx, def, instance, data_models.ProcessInstanceStateAborted)
	case data_models.StateCategoryCancelling:
		return o.finalizeProcess(ctx, def, instance, data_models.ProcessInstanceStateCancelled)
	}

	if instance.IsInterrupted() {
		proceed, err := o.resolveInterruption(ctx, def, instance)
		if err != nil || !proceed {
			return err
		}
	}

	if len(def.ConnectorsFor(definition.ConnectorOnFinish)) > 0 && isTopLevelScope(instance) {
		err := o.instanceStore.UpdateProcessInstanceState(
			ctx, instance.ID, data_models.ProcessInstanceStateCompleting, data_models.StateCategoryNormal)
		if err != nil {
			return err
		}
		return o.dispatcher.Dispatch(WorkDescriptor{
			ID:                  uuid.MustNewUUID(),
			Type:                WorkTypeExecuteConnectors,
			ProcessDefinitionID: def.ID,
			ProcessInstanceID:   instance.ID,
			ConnectorEvent:      definition.ConnectorOnFinish,
		})
	}
	return o.finalizeProcess(ctx, def, instance, data_models.ProcessInstanceStateCompleted)
}

// resolveInterruption runs post-throw correlation for the error end event that
// interrupted the scope. Returns whether completion should proceed.
func (o *ProcessOrchestrator) resolveInterruption(
	ctx context.Context,
	def *definition.ProcessDefinition,
	instance *data_models.ProcessInstance,
) (bool, error) {
	throwing, err := o.instanceStore.GetFlowNodeInstance(ctx, instance.InterruptingEventID)
	if err != nil {
		return false, err
	}
	throwDef, ok := def.FindFlowNode(throwing.FlowNodeDefinitionID)
	if !ok || !isErrorThrowEvent(throwDef) {
		// interrupted by a catcher still in flight; completion waits for it
		return false, nil
	}
	errorCode := ""
	if throwDef.ErrorCode != nil {
		errorCode = *throwDef.ErrorCode
	}

	handled, err := o.correlator.HandlePostThrowEvent(ctx, EventTriggerKindError, instance, throwing, errorCode)
	if err != nil {
		return false, wrapError(err, flowNodeErrorContext(def, instance, throwDef))
	}

	// deferred archiving of the throw event
	if err := o.instanceStore.ArchiveFlowNodeInstance(ctx, throwing.ID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return false, err
	}
	// clear the interruption unless correlation re-pointed it at a catcher
	// instance of this scope (an event sub-process)
	refreshed, err := o.instanceStore.GetProcessInstance(ctx, instance.ID)
	if err != nil {
		return false, err
	}
	if refreshed.InterruptingEventID == throwing.ID {
		if err := o.instanceStore.SetInterruptingEventID(ctx, instance.ID, 0); err != nil {
			return false, err
		}
		refreshed.InterruptingEventID = 0
	}
	instance.InterruptingEventID = refreshed.InterruptingEventID

	if !handled {
		o.logger.Warn("no catch event found for thrown error, the throw error event will act as a terminate event",
			tag.ErrorCode(errorCode),
			tag.ProcessInstanceId(instance.ID),
			tag.ProcessName(def.Name))
		return true, nil
	}

	count, err := o.instanceStore.CountActiveFlowNodeInstances(ctx, instance.ID)
	if err != nil {
		return false, err
	}
	if count > 0 {
		// an event sub-process of this scope caught the error; the scope lives on
		return false, nil
	}
	// the error escaped to an outer scope; this scope ends aborted
	return false, o.finalizeProcess(ctx, def, instance, data_models.ProcessInstanceStateAborted)
}

// finalizeProcess commits the terminal state, cleans catcher registrations and
// resumes the caller activity on normal completion.
func (o *ProcessOrchestrator) finalizeProcess(
	ctx context.Context,
	def *definition.ProcessDefinition,
	instance *data_models.ProcessInstance,
	state data_models.ProcessInstanceState,
) error {
	category := data_models.StateCategoryNormal
	switch state {
	case data_models.ProcessInstanceStateAborted:
		category = data_models.StateCategoryAborting
	case data_models.ProcessInstanceStateCancelled:
		category = data_models.StateCategoryCancelling
	}
	if err := o.instanceStore.UpdateProcessInstanceState(ctx, instance.ID, state, category); err != nil {
		return err
	}
	instance.State = state
	instance.StateCategory = category

	if err := o.correlator.UnregisterCatchersOfProcessInstance(ctx, instance.ID); err != nil {
		return err
	}
	o.logger.Info("process instance finished",
		tag.ProcessInstanceId(instance.ID),
		tag.ProcessName(def.Name),
		tag.Value(state))

	if state == data_models.ProcessInstanceStateCompleted && instance.CallerFlowNodeInstanceID != 0 {
		caller, err := o.instanceStore.GetFlowNodeInstance(ctx, instance.CallerFlowNodeInstanceID)
		if err != nil {
			return err
		}
		return o.dispatchFlowNode(caller)
	}
	return nil
}

// CancelProcessInstance cancels a running instance: its state category flips
// to CANCELLING and in-flight flow nodes switch to the cancel sequence at
// their next advance; nothing is forcibly killed.
func (o *ProcessOrchestrator) CancelProcessInstance(ctx context.Context, processInstanceID int64) error {
	return o.interruptProcessInstance(ctx, processInstanceID,
		data_models.ProcessInstanceStateCancelling, data_models.StateCategoryCancelling)
}

func (o *ProcessOrchestrator) abortProcessInstance(ctx context.Context, processInstanceID int64) error {
	return o.interruptProcessInstance(ctx, processInstanceID,
		data_models.ProcessInstanceStateAborting, data_models.StateCategoryAborting)
}

func (o *ProcessOrchestrator) interruptProcessInstance(
	ctx context.Context,
	processInstanceID int64,
	state data_models.ProcessInstanceState,
	category data_models.StateCategory,
) error {
	instance, err := o.instanceStore.GetProcessInstance(ctx, processInstanceID)
	if err != nil {
		return err
	}
	if instance.State.IsTerminal() || instance.StateCategory == category {
		return nil
	}
	def, err := o.definitionStore.GetProcessDefinition(ctx, instance.ProcessDefinitionID)
	if err != nil {
		return err
	}
	if err := o.instanceStore.UpdateProcessInstanceState(ctx, instance.ID, state, category); err != nil {
		return err
	}
	instance.State = state
	instance.StateCategory = category

	count, err := o.redirectActiveFlowNodes(ctx, instance.ID, 0, category)
	if err != nil {
		return err
	}
	if count == 0 {
		return o.handleProcessCompletion(ctx, def, instance.ID)
	}
	return nil
}

// redirectActiveFlowNodes flips the state category of the instance's active
// flow nodes and dispatches them so they advance down the abort/cancel
// sequence. Returns how many were redirected.
func (o *ProcessOrchestrator) redirectActiveFlowNodes(
	ctx context.Context,
	processInstanceID int64,
	exceptInstanceID int64,
	category data_models.StateCategory,
) (int, error) {
	active, err := o.instanceStore.ListActiveFlowNodeInstances(ctx, processInstanceID)
	if err != nil {
		return 0, err
	}
	redirected := 0
	for _, flowNode := range active {
		if flowNode.ID == exceptInstanceID {
			continue
		}
		flowNode.StateCategory = category
		if err := o.instanceStore.UpdateFlowNodeState(ctx, flowNode); err != nil {
			return redirected, err
		}
		if err := o.dispatchFlowNode(flowNode); err != nil {
			return redirected, err
		}
		redirected++
	}
	return redirected, nil
}

// scopeServices implementation (used by the event correlator)

// instantiateFlowNode creates a flow-node instance in its initial state and
// registers boundary catchers when the node declares boundary events.
// The instance is not dispatched.
func (o *ProcessOrchestrator) instantiateFlowNode(
	ctx context.Context,
	def *definition.ProcessDefinition,
	nodeDef *definition.FlowNodeDefinition,
	processInstance *data_models.ProcessInstance,
	attachedToInstanceID int64,
) (*data_models.FlowNodeInstance, error) {
	initial, err := o.stateMachine.InitialState(nodeDef.Type)
	if err != nil {
		return nil, err
	}
	flowNode := &data_models.FlowNodeInstance{
		FlowNodeDefinitionID:  nodeDef.ID,
		Name:                  nodeDef.Name,
		Type:                  nodeDef.Type,
		ProcessDefinitionID:   processInstance.ProcessDefinitionID,
		ProcessInstanceID:     processInstance.ID,
		RootProcessInstanceID: processInstance.RootProcessInstanceID,
		AttachedToInstanceID:  attachedToInstanceID,
		State:                 initial.ID,
		StateCategory:         data_models.StateCategoryNormal,
		Terminal:              initial.Terminal,
		Stable:                initial.Stable,
	}
	if err := o.instanceStore.CreateFlowNodeInstance(ctx, flowNode); err != nil {
		return nil, err
	}
	if nodeDef.Type.IsActivity() && len(nodeDef.BoundaryEvents) > 0 {
		if err := o.correlator.RegisterBoundaryCatchers(ctx, def, nodeDef, flowNode); err != nil {
			return nil, err
		}
	}
	return flowNode, nil
}

func (o *ProcessOrchestrator) dispatchFlowNode(flowNode *data_models.FlowNodeInstance) error {
	return o.dispatcher.Dispatch(WorkDescriptor{
		ID:                  uuid.MustNewUUID(),
		Type:                WorkTypeExecuteFlowNode,
		ProcessDefinitionID: flowNode.ProcessDefinitionID,
		ProcessInstanceID:   flowNode.ProcessInstanceID,
		FlowNodeInstanceID:  flowNode.ID,
	})
}

// abortActivityScope moves an activity instance onto the abort sequence and
// aborts the child process instances rooted at it.
func (o *ProcessOrchestrator) abortActivityScope(ctx context.Context, activityInstance *data_models.FlowNodeInstance) error {
	if activityInstance.Terminal {
		return nil
	}
	activityInstance.StateCategory = data_models.StateCategoryAborting
	if err := o.instanceStore.UpdateFlowNodeState(ctx, activityInstance); err != nil {
		return err
	}
	if err := o.interruptChildScopes(ctx, activityInstance.ProcessInstanceID, activityInstance.ID, data_models.StateCategoryAborting); err != nil {
		return err
	}
	return o.dispatchFlowNode(activityInstance)
}

// abortProcessFlowNodes moves every active flow node of the instance onto the
// abort sequence, except the given one.
func (o *ProcessOrchestrator) abortProcessFlowNodes(ctx context.Context, processInstanceID int64, exceptInstanceID int64) error {
	_, err := o.redirectActiveFlowNodes(ctx, processInstanceID, exceptInstanceID, data_models.StateCategoryAborting)
	return err
}

// interruptChildScopes aborts/cancels the non-terminal child process instances
// whose caller is the given flow-node instance.
func (o *ProcessOrchestrator) interruptChildScopes(
	ctx context.Context,
	processInstanceID int64,
	callerFlowNodeInstanceID int64,
	category data_models.StateCategory,
) error {
	children, err := o.instanceStore.ListChildProcessInstances(ctx, processInstanceID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.CallerFlowNodeInstanceID != callerFlowNodeInstanceID {
			continue
		}
		var err error
		if category == data_models.StateCategoryCancelling {
			err = o.CancelProcessInstance(ctx, child.ID)
		} else {
			err = o.abortProcessInstance(ctx, child.ID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// helpers

func gatewayLockKey(processInstanceID int64, gatewayName string) string {
	return fmt.Sprintf("gateway/%v/%v", processInstanceID, gatewayName)
}

func validateContractInputs(def *definition.ProcessDefinition, inputs map[string]interface{}) error {
	var missing []string
	for _, required := range def.RequiredInputs {
		if _, ok := inputs[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required inputs %v", ErrContractViolation, missing)
	}
	return nil
}

func isErrorThrowEvent(nodeDef *definition.FlowNodeDefinition) bool {
	return nodeDef.Type == definition.FlowNodeTypeEndEvent && nodeDef.EndEventKind == definition.EndEventKindError
}

func containerHasInclusiveGateway(container *definition.ContainerDefinition) bool {
	for _, flowNode := range container.FlowNodes {
		if flowNode.Type == definition.FlowNodeTypeGateway && flowNode.GatewayType == definition.GatewayTypeInclusive {
			return true
		}
	}
	return false
}

// isTopLevelScope reports whether the instance runs a full process body,
// where process-level connectors apply, as opposed to a nested scope body.
func isTopLevelScope(instance *data_models.ProcessInstance) bool {
	return instance.CallerType == data_models.CallerTypeNone ||
		instance.CallerType == data_models.CallerTypeCallActivity
}

// containerOfInstance resolves which container of the definition the process
// instance executes: the root body, or the body of the sub-process node that
// started it.
func containerOfInstance(
	ctx context.Context,
	instanceStore persistence.InstanceStore,
	def *definition.ProcessDefinition,
	instance *data_models.ProcessInstance,
) (*definition.ContainerDefinition, error) {
	if instance.CallerType != data_models.CallerTypeSubProcess &&
		instance.CallerType != data_models.CallerTypeEventSubProcess {
		return def.Container, nil
	}
	caller, err := instanceStore.GetFlowNodeInstance(ctx, instance.CallerFlowNodeInstanceID)
	if err != nil {
		return nil, err
	}
	callerDef, ok := def.FindFlowNode(caller.FlowNodeDefinitionID)
	if !ok || callerDef.Container == nil {
		return nil, fmt.Errorf("caller flow node %v has no nested container", caller.FlowNodeDefinitionID)
	}
	return callerDef.Container, nil
}

func defErrorContext(def *definition.ProcessDefinition) ErrorContext {
	return ErrorContext{
		ProcessDefinitionID: def.ID,
		ProcessName:         def.Name,
		ProcessVersion:      def.Version,
	}
}

func instanceErrorContext(def *definition.ProcessDefinition, instance *data_models.ProcessInstance) ErrorContext {
	errCtx := defErrorContext(def)
	errCtx.ProcessInstanceID = instance.ID
	errCtx.RootProcessInstanceID = instance.RootProcessInstanceID
	return errCtx
}

func flowNodeErrorContext(
	def *definition.ProcessDefinition,
	instance *data_models.ProcessInstance,
	nodeDef *definition.FlowNodeDefinition,
) ErrorContext {
	errCtx := instanceErrorContext(def, instance)
	errCtx.FlowNodeDefinitionID = nodeDef.ID
	errCtx.FlowNodeName = nodeDef.Name
	return errCtx
}
