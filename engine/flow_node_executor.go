// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/procflowio/procflow/common/log/tag"
	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/persistence"
	"github.com/procflowio/procflow/persistence/data_models"
)

// ProcessWork consumes one work descriptor from the dispatch layer.
func (o *ProcessOrchestrator) ProcessWork(ctx context.Context, work WorkDescriptor) error {
	switch work.Type {
	case WorkTypeExecuteFlowNode:
		return o.executeFlowNode(ctx, work)
	case WorkTypeExecuteConnectors:
		return o.executeConnectors(ctx, work)
	default:
		return fmt.Errorf("unknown work type %v", work.Type)
	}
}

// executeFlowNode advances a flow-node instance through its lifecycle until it
// parks at a stable state or reaches a terminal one. Each advanced state is
// persisted before the next step, so a crash resumes from the last checkpoint.
func (o *ProcessOrchestrator) executeFlowNode(ctx context.Context, work WorkDescriptor) error {
	flowNode, err := o.instanceStore.GetFlowNodeInstance(ctx, work.FlowNodeInstanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			// already finished and archived: duplicate delivery
			return nil
		}
		return err
	}
	if flowNode.Terminal {
		return nil
	}

	instance, err := o.instanceStore.GetProcessInstance(ctx, flowNode.ProcessInstanceID)
	if err != nil {
		return err
	}
	def, err := o.definitionStore.GetProcessDefinition(ctx, instance.ProcessDefinitionID)
	if err != nil {
		return err
	}
	container, err := containerOfInstance(ctx, o.instanceStore, def, instance)
	if err != nil {
		return wrapError(err, instanceErrorContext(def, instance))
	}
	nodeDef, ok := container.FlowNodeByID(flowNode.FlowNodeDefinitionID)
	if !ok {
		return wrapError(
			fmt.Errorf("flow node definition %v is not in the scope container", flowNode.FlowNodeDefinitionID),
			instanceErrorContext(def, instance))
	}

	category := effectiveCategory(instance, flowNode)
	current, err := o.stateMachine.StateByID(flowNode.Type, flowNode.State)
	if err != nil {
		return wrapError(err, flowNodeErrorContext(def, instance, nodeDef))
	}

	// a dispatch landing on a stable state is a resume attempt; parked nodes
	// only move on when their resume condition holds or the category flipped
	if current.Stable && current.Category == category {
		resume, err := o.canResume(ctx, instance, flowNode, nodeDef)
		if err != nil {
			return wrapError(err, flowNodeErrorContext(def, instance, nodeDef))
		}
		if !resume {
			return nil
		}
	}

	for !current.Terminal {
		next, err := o.stateMachine.Next(flowNode.Type, current, category)
		if err != nil {
			return wrapError(err, flowNodeErrorContext(def, instance, nodeDef))
		}
		if err := o.onEnterState(ctx, def, nodeDef, instance, flowNode, next); err != nil {
			return wrapError(err, flowNodeErrorContext(def, instance, nodeDef))
		}
		flowNode.State = next.ID
		flowNode.StateCategory = next.Category
		flowNode.Terminal = next.Terminal
		flowNode.Stable = next.Stable
		if err := o.instanceStore.UpdateFlowNodeState(ctx, flowNode); err != nil {
			return wrapError(err, flowNodeErrorContext(def, instance, nodeDef))
		}
		current = next
		if current.Stable && !current.Terminal {
			o.logger.Debug("flow node parked",
				tag.ProcessInstanceId(instance.ID),
				tag.FlowNodeInstanceId(flowNode.ID),
				tag.FlowNodeName(nodeDef.Name),
				tag.Value(current.ID))
			return nil
		}
	}
	return o.ChildFinished(ctx, instance.ID, flowNode.ID)
}

// effectiveCategory decides which lifecycle sequence governs the next advance:
// the node's own category when it was redirected individually (boundary event
// aborting its activity), else the owning process's.
func effectiveCategory(instance *data_models.ProcessInstance, flowNode *data_models.FlowNodeInstance) data_models.StateCategory {
	if flowNode.StateCategory != data_models.StateCategoryNormal {
		return flowNode.StateCategory
	}
	return instance.StateCategory
}

// canResume guards parked nodes against duplicate work delivery.
func (o *ProcessOrchestrator) canResume(
	ctx context.Context,
	instance *data_models.ProcessInstance,
	flowNode *data_models.FlowNodeInstance,
	nodeDef *definition.FlowNodeDefinition,
) (bool, error) {
	switch nodeDef.Type {
	case definition.FlowNodeTypeUserTask:
		// only CompleteUserTask moves a waiting user task
		return false, nil
	case definition.FlowNodeTypeGateway:
		// only the merge path moves a waiting gateway, and it re-dispatches
		// the instance already in its execution state
		return false, nil
	case definition.FlowNodeTypeSubProcess, definition.FlowNodeTypeCallActivity:
		// the child process instance is created before the node parks, so the
		// node may resume once no child of it is still running
		children, err := o.instanceStore.ListChildProcessInstances(ctx, instance.ID)
		if err != nil {
			return false, err
		}
		for _, child := range children {
			if child.CallerFlowNodeInstanceID == flowNode.ID && !child.State.IsTerminal() {
				return false, nil
			}
		}
		return true, nil
	default:
		return true, nil
	}
}

// onEnterState runs the side effect of entering the next state, before the
// state is persisted.
func (o *ProcessOrchestrator) onEnterState(
	ctx context.Context,
	def *definition.ProcessDefinition,
	nodeDef *definition.FlowNodeDefinition,
	instance *data_models.ProcessInstance,
	flowNode *data_models.FlowNodeInstance,
	next State,
) error {
	if next.Interrupting {
		// entering the abort/cancel sequence cascades into nested scopes
		if isScopeNode(nodeDef) && !next.Terminal {
			return o.interruptChildScopes(ctx, instance.ID, flowNode.ID, next.Category)
		}
		return nil
	}

	switch next.ID {
	case data_models.FlowNodeStateExecuting:
		return o.onStartExecuting(ctx, def, nodeDef, instance, flowNode)
	case data_models.FlowNodeStateCompleted:
		if isErrorThrowEvent(nodeDef) {
			return o.correlator.HandleThrowEvent(ctx, instance, flowNode)
		}
	}
	return nil
}

func (o *ProcessOrchestrator) onStartExecuting(
	ctx context.Context,
	def *definition.ProcessDefinition,
	nodeDef *definition.FlowNodeDefinition,
	instance *data_models.ProcessInstance,
	flowNode *data_models.FlowNodeInstance,
) error {
	switch nodeDef.Type {
	case definition.FlowNodeTypeSubProcess:
		callerType := data_models.CallerTypeSubProcess
		if nodeDef.TriggeredByEvent {
			callerType = data_models.CallerTypeEventSubProcess
		}
		if nodeDef.Container == nil {
			return fmt.Errorf("sub-process %v has no body container", nodeDef.ID)
		}
		_, err := o.startChildProcess(ctx, def, nodeDef.Container, flowNode, instance, callerType)
		return err
	case definition.FlowNodeTypeCallActivity:
		target, err := o.definitionStore.GetLatestProcessDefinitionByName(ctx, nodeDef.TargetProcessName)
		if err != nil {
			return err
		}
		if !target.Enabled {
			return fmt.Errorf("%w: called process %q version %q", ErrProcessDisabled, target.Name, target.Version)
		}
		_, err = o.startChildProcess(ctx, target, target.Container, flowNode, instance, data_models.CallerTypeCallActivity)
		return err
	default:
		return nil
	}
}

func isScopeNode(nodeDef *definition.FlowNodeDefinition) bool {
	return nodeDef.Type == definition.FlowNodeTypeSubProcess ||
		nodeDef.Type == definition.FlowNodeTypeCallActivity
}

// executeConnectors runs the connectors of one activation event, then resumes
// the deferred process lifecycle step. The state guards make duplicate
// deliveries no-ops once the step went through.
func (o *ProcessOrchestrator) executeConnectors(ctx context.Context, work WorkDescriptor) error {
	instance, err := o.instanceStore.GetProcessInstance(ctx, work.ProcessInstanceID)
	if err != nil {
		return err
	}
	def, err := o.definitionStore.GetProcessDefinition(ctx, instance.ProcessDefinitionID)
	if err != nil {
		return err
	}

	switch work.ConnectorEvent {
	case definition.ConnectorOnEnter:
		if instance.State != data_models.ProcessInstanceStateInitializing {
			return nil
		}
	case definition.ConnectorOnFinish:
		if instance.State != data_models.ProcessInstanceStateCompleting {
			return nil
		}
	default:
		return fmt.Errorf("unknown connector activation event %v", work.ConnectorEvent)
	}

	variables, err := o.instanceStore.GetProcessVariables(ctx, instance.ID)
	if err != nil {
		return err
	}
	for _, connector := range def.ConnectorsFor(work.ConnectorEvent) {
		if err := o.connectors.Execute(ctx, connector, variables); err != nil {
			return wrapError(
				fmt.Errorf("connector %q failed: %w", connector.Name, err),
				instanceErrorContext(def, instance))
		}
		o.logger.Info("connector executed",
			tag.ProcessInstanceId(instance.ID),
			tag.ConnectorId(connector.ID),
			tag.Value(work.ConnectorEvent))
	}

	if work.ConnectorEvent == definition.ConnectorOnEnter {
		if err := o.startElements(ctx, def, def.Container, instance); err != nil {
			return wrapError(err, instanceErrorContext(def, instance))
		}
		return nil
	}
	return o.finalizeProcess(ctx, def, instance, data_models.ProcessInstanceStateCompleted)
}

// CompleteUserTask resolves a waiting user task with its outputs and resumes
// its execution.
func (o *ProcessOrchestrator) CompleteUserTask(
	ctx context.Context,
	flowNodeInstanceID int64,
	outputs map[string]interface{},
) error {
	flowNode, err := o.instanceStore.GetFlowNodeInstance(ctx, flowNodeInstanceID)
	if err != nil {
		return err
	}
	if flowNode.Type != definition.FlowNodeTypeUserTask {
		return fmt.Errorf("%w: flow node instance %v is not a user task", ErrInvalidStateTransition, flowNodeInstanceID)
	}
	if flowNode.State != data_models.FlowNodeStateWaiting ||
		flowNode.StateCategory != data_models.StateCategoryNormal {
		return fmt.Errorf("%w: user task instance %v is in state %v", ErrInvalidStateTransition, flowNodeInstanceID, flowNode.State)
	}

	for name, value := range outputs {
		if err := o.instanceStore.SetProcessVariable(ctx, flowNode.ProcessInstanceID, name, value); err != nil {
			return err
		}
	}

	flowNode.State = data_models.FlowNodeStateExecuting
	flowNode.Stable = false
	if err := o.instanceStore.UpdateFlowNodeState(ctx, flowNode); err != nil {
		return err
	}
	o.logger.Info("user task completed",
		tag.ProcessInstanceId(flowNode.ProcessInstanceID),
		tag.FlowNodeInstanceId(flowNode.ID),
		tag.FlowNodeName(flowNode.Name))
	return o.dispatchFlowNode(flowNode)
}
