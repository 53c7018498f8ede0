// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/procflowio/procflow/common/log"
	"github.com/procflowio/procflow/common/log/tag"
	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/persistence"
	"github.com/procflowio/procflow/persistence/data_models"
)

// EventTriggerKind identifies the interrupting trigger of a thrown event.
// Handlers are selected by kind lookup; error is the only kind implemented,
// the registry is where signal/message/timer handlers plug in.
type EventTriggerKind string

const EventTriggerKindError EventTriggerKind = "ERROR"

// eventHandler is one trigger-kind strategy.
type eventHandler interface {
	// handlePostThrowEvent resolves the thrown event to a waiting catcher and
	// triggers it. Returns false when no catcher exists anywhere up the call
	// chain (the throw then degrades to terminate semantics).
	handlePostThrowEvent(
		ctx context.Context,
		processInstance *data_models.ProcessInstance,
		throwing *data_models.FlowNodeInstance,
		errorCode string,
	) (bool, error)
}

// scopeServices are the orchestration operations the correlator needs when a
// catcher triggers. Implemented by ProcessOrchestrator.
type scopeServices interface {
	instantiateFlowNode(
		ctx context.Context,
		def *definition.ProcessDefinition,
		nodeDef *definition.FlowNodeDefinition,
		processInstance *data_models.ProcessInstance,
		attachedToInstanceID int64,
	) (*data_models.FlowNodeInstance, error)
	dispatchFlowNode(instance *data_models.FlowNodeInstance) error
	// abortActivityScope moves the activity instance and everything below it
	// (its child process instance, recursively) onto the abort sequence.
	abortActivityScope(ctx context.Context, activityInstance *data_models.FlowNodeInstance) error
	// abortProcessFlowNodes moves all active flow nodes of the instance onto
	// the abort sequence, except the given one.
	abortProcessFlowNodes(ctx context.Context, processInstanceID int64, exceptInstanceID int64) error
}

// EventCorrelator registers waiting catchers and resolves thrown interrupting
// events to them across nested call scopes.
type EventCorrelator struct {
	definitionStore   persistence.DefinitionStore
	instanceStore     persistence.InstanceStore
	waitingEventStore persistence.WaitingEventStore
	logger            log.Logger

	services scopeServices
	handlers map[EventTriggerKind]eventHandler
}

func NewEventCorrelator(
	definitionStore persistence.DefinitionStore,
	instanceStore persistence.InstanceStore,
	waitingEventStore persistence.WaitingEventStore,
	logger log.Logger,
) *EventCorrelator {
	c := &EventCorrelator{
		definitionStore:   definitionStore,
		instanceStore:     instanceStore,
		waitingEventStore: waitingEventStore,
		logger:            logger,
	}
	c.handlers = map[EventTriggerKind]eventHandler{
		EventTriggerKindError: &errorEventHandler{correlator: c},
	}
	return c
}

// setScopeServices wires the orchestrator in after construction.
func (c *EventCorrelator) setScopeServices(services scopeServices) {
	c.services = services
}

// RegisterEventSubProcesses creates the waiting-event records for every
// event-triggered sub-process declared in the container, scoped to the
// starting process instance.
func (c *EventCorrelator) RegisterEventSubProcesses(
	ctx context.Context,
	container *definition.ContainerDefinition,
	processInstance *data_models.ProcessInstance,
) error {
	for _, espDef := range container.EventSubProcesses() {
		event := &data_models.WaitingErrorEvent{
			EventType:             data_models.WaitingEventTypeEventSubProcess,
			ProcessDefinitionID:   processInstance.ProcessDefinitionID,
			ProcessInstanceID:     processInstance.ID,
			RootProcessInstanceID: processInstance.RootProcessInstanceID,
			FlowNodeDefinitionID:  espDef.ID,
			ErrorCode:             eventSubProcessCatchFilter(espDef),
		}
		if err := c.waitingEventStore.CreateWaitingErrorEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// RegisterBoundaryCatchers creates the waiting-event records for the boundary
// events attached to a just-started activity instance.
func (c *EventCorrelator) RegisterBoundaryCatchers(
	ctx context.Context,
	def *definition.ProcessDefinition,
	activityDef *definition.FlowNodeDefinition,
	activityInstance *data_models.FlowNodeInstance,
) error {
	for _, boundaryID := range activityDef.BoundaryEvents {
		boundaryDef, ok := def.FindFlowNode(boundaryID)
		if !ok {
			return fmt.Errorf("boundary event %v of activity %v is not in the definition", boundaryID, activityDef.ID)
		}
		event := &data_models.WaitingErrorEvent{
			EventType:                 data_models.WaitingEventTypeBoundaryEvent,
			ProcessDefinitionID:       activityInstance.ProcessDefinitionID,
			ProcessInstanceID:         activityInstance.ProcessInstanceID,
			RootProcessInstanceID:     activityInstance.RootProcessInstanceID,
			FlowNodeDefinitionID:      boundaryDef.ID,
			RelatedActivityInstanceID: activityInstance.ID,
			ErrorCode:                 boundaryDef.ErrorCode,
		}
		if err := c.waitingEventStore.CreateWaitingErrorEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterCatchersOfActivity removes the boundary records of a finished
// activity instance.
func (c *EventCorrelator) UnregisterCatchersOfActivity(ctx context.Context, activityInstanceID int64) error {
	events, err := c.waitingEventStore.ListBoundaryWaitingEvents(ctx, activityInstanceID)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := c.waitingEventStore.DeleteWaitingErrorEvent(ctx, event.ID); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterCatchersOfProcessInstance removes every record scoped to a
// terminal process instance.
func (c *EventCorrelator) UnregisterCatchersOfProcessInstance(ctx context.Context, processInstanceID int64) error {
	return c.waitingEventStore.DeleteWaitingEventsOfProcessInstance(ctx, processInstanceID)
}

// HandleThrowEvent marks the throwing scope interrupted by the event instance.
// Correlation itself is deferred to HandlePostThrowEvent, which runs when the
// scope's last flow node has finished.
func (c *EventCorrelator) HandleThrowEvent(
	ctx context.Context,
	processInstance *data_models.ProcessInstance,
	throwing *data_models.FlowNodeInstance,
) error {
	return c.instanceStore.SetInterruptingEventID(ctx, processInstance.ID, throwing.ID)
}

// HandlePostThrowEvent resolves the thrown event to a catcher and triggers it.
// Returns false when unhandled.
func (c *EventCorrelator) HandlePostThrowEvent(
	ctx context.Context,
	kind EventTriggerKind,
	processInstance *data_models.ProcessInstance,
	throwing *data_models.FlowNodeInstance,
	errorCode string,
) (bool, error) {
	handler, ok := c.handlers[kind]
	if !ok {
		return false, fmt.Errorf("no event handler registered for trigger kind %v", kind)
	}
	return handler.handlePostThrowEvent(ctx, processInstance, throwing, errorCode)
}

// errorEventHandler is the error-trigger strategy. Resolution order for an
// error thrown inside process instance P:
//  1. boundary events on P's enclosing activity instance;
//  2. an event sub-process of P's own container;
//  3. recursively the same search in P's caller.
//
// Closer scopes always win, so a boundary catcher shadows an event
// sub-process catcher higher up.
type errorEventHandler struct {
	correlator *EventCorrelator
}

func (h *errorEventHandler) handlePostThrowEvent(
	ctx context.Context,
	processInstance *data_models.ProcessInstance,
	throwing *data_models.FlowNodeInstance,
	errorCode string,
) (bool, error) {
	c := h.correlator
	scope := processInstance
	for {
		if scope.CallerFlowNodeInstanceID != 0 && scope.CallerType != data_models.CallerTypeEventSubProcess {
			catcher, err := h.findBoundaryCatcher(ctx, scope.CallerFlowNodeInstanceID, errorCode)
			if err != nil {
				return false, err
			}
			if catcher != nil {
				return true, h.triggerBoundaryEvent(ctx, catcher, errorCode)
			}
		}

		catcher, err := h.findEventSubProcessCatcher(ctx, scope, errorCode)
		if err != nil {
			return false, err
		}
		if catcher != nil {
			return true, h.triggerEventSubProcess(ctx, catcher, errorCode)
		}

		if scope.CallerProcessInstanceID == 0 {
			return false, nil
		}
		scope, err = c.instanceStore.GetProcessInstance(ctx, scope.CallerProcessInstanceID)
		if err != nil {
			return false, err
		}
	}
}

// findBoundaryCatcher picks the boundary record guarding the activity that
// matches the code, exact code filter winning over catch-all.
func (h *errorEventHandler) findBoundaryCatcher(
	ctx context.Context,
	activityInstanceID int64,
	errorCode string,
) (*data_models.WaitingErrorEvent, error) {
	events, err := h.correlator.waitingEventStore.ListBoundaryWaitingEvents(ctx, activityInstanceID)
	if err != nil {
		return nil, err
	}
	var catchAll *data_models.WaitingErrorEvent
	for _, event := range events {
		if !event.Matches(errorCode) {
			continue
		}
		if event.IsCatchAll() {
			if catchAll == nil {
				catchAll = event
			}
			continue
		}
		return event, nil
	}
	return catchAll, nil
}

// findEventSubProcessCatcher resolves the event sub-process of the scope's
// container that catches the code. When the definition declares a catcher,
// exactly one matching waiting record must exist; zero or more than one is an
// internal consistency fault.
func (h *errorEventHandler) findEventSubProcessCatcher(
	ctx context.Context,
	scope *data_models.ProcessInstance,
	errorCode string,
) (*data_models.WaitingErrorEvent, error) {
	c := h.correlator
	def, err := c.definitionStore.GetProcessDefinition(ctx, scope.ProcessDefinitionID)
	if err != nil {
		return nil, err
	}
	container, err := containerOfInstance(ctx, c.instanceStore, def, scope)
	if err != nil {
		return nil, err
	}
	espDef := matchingEventSubProcess(container, errorCode)
	if espDef == nil {
		return nil, nil
	}

	events, err := c.waitingEventStore.ListWaitingErrorEvents(ctx, scope.ID, data_models.WaitingEventTypeEventSubProcess)
	if err != nil {
		return nil, err
	}
	var matching []*data_models.WaitingErrorEvent
	for _, event := range events {
		if event.FlowNodeDefinitionID == espDef.ID && event.Matches(errorCode) {
			matching = append(matching, event)
		}
	}
	if len(matching) != 1 {
		return nil, fmt.Errorf("%w: %v waiting records for event sub-process %v catching code %q in process instance %v, want exactly 1",
			ErrCorrelationFault, len(matching), espDef.ID, errorCode, scope.ID)
	}
	return matching[0], nil
}

func (h *errorEventHandler) triggerBoundaryEvent(
	ctx context.Context,
	catcher *data_models.WaitingErrorEvent,
	errorCode string,
) error {
	c := h.correlator
	activityInstance, err := c.instanceStore.GetFlowNodeInstance(ctx, catcher.RelatedActivityInstanceID)
	if err != nil {
		return err
	}
	parent, err := c.instanceStore.GetProcessInstance(ctx, activityInstance.ProcessInstanceID)
	if err != nil {
		return err
	}
	parentDef, err := c.definitionStore.GetProcessDefinition(ctx, parent.ProcessDefinitionID)
	if err != nil {
		return err
	}
	boundaryDef, ok := parentDef.FindFlowNode(catcher.FlowNodeDefinitionID)
	if !ok {
		return fmt.Errorf("boundary event definition %v is not in process definition %v", catcher.FlowNodeDefinitionID, parentDef.ID)
	}

	boundaryInstance, err := c.services.instantiateFlowNode(ctx, parentDef, boundaryDef, parent, activityInstance.ID)
	if err != nil {
		return err
	}
	if err := c.instanceStore.SetInterruptingEventID(ctx, parent.ID, boundaryInstance.ID); err != nil {
		return err
	}

	c.logger.Info("error event caught by boundary event",
		tag.ErrorCode(errorCode),
		tag.ProcessInstanceId(parent.ID),
		tag.FlowNodeName(boundaryDef.Name),
		tag.FlowNodeInstanceId(activityInstance.ID))

	// only the scope rooted at the guarded activity is interrupted
	if err := c.services.abortActivityScope(ctx, activityInstance); err != nil {
		return err
	}
	if err := c.UnregisterCatchersOfActivity(ctx, activityInstance.ID); err != nil {
		return err
	}
	return c.services.dispatchFlowNode(boundaryInstance)
}

func (h *errorEventHandler) triggerEventSubProcess(
	ctx context.Context,
	catcher *data_models.WaitingErrorEvent,
	errorCode string,
) error {
	c := h.correlator
	owner, err := c.instanceStore.GetProcessInstance(ctx, catcher.ProcessInstanceID)
	if err != nil {
		return err
	}
	ownerDef, err := c.definitionStore.GetProcessDefinition(ctx, owner.ProcessDefinitionID)
	if err != nil {
		return err
	}
	espDef, ok := ownerDef.FindFlowNode(catcher.FlowNodeDefinitionID)
	if !ok {
		return fmt.Errorf("event sub-process definition %v is not in process definition %v", catcher.FlowNodeDefinitionID, ownerDef.ID)
	}

	espInstance, err := c.services.instantiateFlowNode(ctx, ownerDef, espDef, owner, 0)
	if err != nil {
		return err
	}
	if err := c.instanceStore.SetInterruptingEventID(ctx, owner.ID, espInstance.ID); err != nil {
		return err
	}

	c.logger.Info("error event caught by event sub-process",
		tag.ErrorCode(errorCode),
		tag.ProcessInstanceId(owner.ID),
		tag.FlowNodeName(espDef.Name))

	// the whole containing process is interrupted
	if err := c.services.abortProcessFlowNodes(ctx, owner.ID, espInstance.ID); err != nil {
		return err
	}
	if err := c.waitingEventStore.DeleteWaitingErrorEvent(ctx, catcher.ID); err != nil {
		return err
	}
	return c.services.dispatchFlowNode(espInstance)
}

// matchingEventSubProcess returns the event sub-process of the container
// catching the code, exact filter winning over catch-all.
func matchingEventSubProcess(container *definition.ContainerDefinition, errorCode string) *definition.FlowNodeDefinition {
	var catchAll *definition.FlowNodeDefinition
	for _, espDef := range container.EventSubProcesses() {
		filter := eventSubProcessCatchFilter(espDef)
		if filter == nil {
			if catchAll == nil {
				catchAll = espDef
			}
			continue
		}
		if *filter == errorCode {
			return espDef
		}
	}
	return catchAll
}

// eventSubProcessCatchFilter reads the catch filter off the start event of the
// event sub-process body.
func eventSubProcessCatchFilter(espDef *definition.FlowNodeDefinition) *string {
	if espDef.Container == nil {
		return nil
	}
	for _, start := range espDef.Container.StartNodes() {
		if start.ErrorCode != nil {
			return start.ErrorCode
		}
	}
	return nil
}
