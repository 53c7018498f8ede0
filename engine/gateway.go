// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/procflowio/procflow/common/log"
	"github.com/procflowio/procflow/common/log/tag"
	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/persistence"
	"github.com/procflowio/procflow/persistence/data_models"
)

// GatewayMerger owns gateway-instance lifecycle: locating or creating the
// active instance per definition+scope, recording incoming-transition hits,
// and deciding when a gateway is satisfied.
//
// Callers must hold the scope lock for (process instance, gateway name) around
// any hit-accounting + merge-check pair; see ProcessOrchestrator.executeGateway.
type GatewayMerger struct {
	instanceStore persistence.InstanceStore
	stateMachine  *StateMachine
	logger        log.Logger
}

func NewGatewayMerger(instanceStore persistence.InstanceStore, stateMachine *StateMachine, logger log.Logger) *GatewayMerger {
	return &GatewayMerger{
		instanceStore: instanceStore,
		stateMachine:  stateMachine,
		logger:        logger,
	}
}

// GetActiveOrCreate returns the unfinished gateway instance for the given
// definition in the process scope, creating one when an earlier instance has
// already finished merging (gateway re-entered by a loop) or none exists yet.
func (m *GatewayMerger) GetActiveOrCreate(
	ctx context.Context,
	gatewayDef *definition.FlowNodeDefinition,
	processInstance *data_models.ProcessInstance,
) (*data_models.GatewayInstance, error) {
	gateway, err := m.instanceStore.GetActiveGatewayInstance(ctx, processInstance.ID, gatewayDef.ID)
	if err == nil {
		return gateway, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	initial, err := m.stateMachine.InitialState(definition.FlowNodeTypeGateway)
	if err != nil {
		return nil, err
	}
	gateway = &data_models.GatewayInstance{
		FlowNodeInstance: data_models.FlowNodeInstance{
			FlowNodeDefinitionID:  gatewayDef.ID,
			Name:                  gatewayDef.Name,
			Type:                  definition.FlowNodeTypeGateway,
			ProcessDefinitionID:   processInstance.ProcessDefinitionID,
			ProcessInstanceID:     processInstance.ID,
			RootProcessInstanceID: processInstance.RootProcessInstanceID,
			State:                 initial.ID,
			StateCategory:         data_models.StateCategoryNormal,
			Stable:                initial.Stable,
		},
	}
	if err := m.instanceStore.CreateGatewayInstance(ctx, gateway); err != nil {
		return nil, err
	}
	m.logger.Debug("created gateway instance",
		tag.ProcessInstanceId(processInstance.ID),
		tag.GatewayName(gatewayDef.Name),
		tag.FlowNodeInstanceId(gateway.ID))
	return gateway, nil
}

// HitTransition idempotently marks the incoming transition as satisfied for
// this instance: a second hit with the same transition id is a no-op.
func (m *GatewayMerger) HitTransition(
	ctx context.Context,
	gateway *data_models.GatewayInstance,
	transitionID int64,
) error {
	if gateway.Finished {
		return fmt.Errorf("gateway instance %v already finished, cannot accept transition %v", gateway.ID, transitionID)
	}
	if gateway.IsHitBy(transitionID) {
		return nil
	}
	gateway.HitBys = append(gateway.HitBys, transitionID)
	return m.instanceStore.UpdateGatewayInstance(ctx, gateway)
}

// CheckMergingCondition decides whether the gateway instance is satisfied:
//   - exclusive gateways pass each token through as it arrives;
//   - parallel gateways merge when every declared incoming transition is hit;
//   - inclusive gateways merge when every incoming transition is hit, or when
//     the remaining un-hit transitions can provably never be taken because no
//     live flow-node instance is upstream of them anymore.
func (m *GatewayMerger) CheckMergingCondition(
	ctx context.Context,
	container *definition.ContainerDefinition,
	gatewayDef *definition.FlowNodeDefinition,
	gateway *data_models.GatewayInstance,
) (bool, error) {
	hitCount := len(gateway.HitBys)
	switch gatewayDef.GatewayType {
	case definition.GatewayTypeExclusive:
		return hitCount > 0, nil
	case definition.GatewayTypeParallel:
		return hitCount == len(gatewayDef.Incoming), nil
	case definition.GatewayTypeInclusive:
		if hitCount == 0 {
			return false, nil
		}
		if hitCount == len(gatewayDef.Incoming) {
			return true, nil
		}
		return m.noLiveBranchRemains(ctx, container, gatewayDef, gateway)
	default:
		return false, fmt.Errorf("unknown gateway type %v for gateway %v", gatewayDef.GatewayType, gatewayDef.ID)
	}
}

// noLiveBranchRemains reports whether none of the un-hit incoming transitions
// can still receive a token: no active flow-node instance of the scope sits
// upstream of any of them.
func (m *GatewayMerger) noLiveBranchRemains(
	ctx context.Context,
	container *definition.ContainerDefinition,
	gatewayDef *definition.FlowNodeDefinition,
	gateway *data_models.GatewayInstance,
) (bool, error) {
	active, err := m.instanceStore.ListActiveFlowNodeInstances(ctx, gateway.ProcessInstanceID)
	if err != nil {
		return false, err
	}
	activeDefs := make(map[int64]bool, len(active))
	for _, instance := range active {
		if instance.ID == gateway.ID {
			continue
		}
		activeDefs[instance.FlowNodeDefinitionID] = true
	}
	if len(activeDefs) == 0 {
		return true, nil
	}

	for _, transitionID := range gatewayDef.Incoming {
		if gateway.IsHitBy(transitionID) {
			continue
		}
		transition, ok := container.TransitionByID(transitionID)
		if !ok {
			return false, fmt.Errorf("incoming transition %v of gateway %v is not in its container", transitionID, gatewayDef.ID)
		}
		for upstreamID := range upstreamNodeIDs(container, transition.Source) {
			if activeDefs[upstreamID] {
				return false, nil
			}
		}
	}
	return true, nil
}

// upstreamNodeIDs collects the node ids that can reach target (inclusive)
// walking transitions backwards within one container.
func upstreamNodeIDs(container *definition.ContainerDefinition, target int64) map[int64]bool {
	sourcesOf := make(map[int64][]int64, len(container.Transitions))
	for _, transition := range container.Transitions {
		sourcesOf[transition.Target] = append(sourcesOf[transition.Target], transition.Source)
	}
	visited := map[int64]bool{target: true}
	queue := []int64{target}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, source := range sourcesOf[node] {
			if !visited[source] {
				visited[source] = true
				queue = append(queue, source)
			}
		}
	}
	return visited
}

// SetFinishAndCreateNewGatewayForRemainingToken finalizes a merged instance.
// From this point the instance accepts no further hits; a token arriving later
// creates a fresh instance through GetActiveOrCreate, so no token is ever
// dropped.
func (m *GatewayMerger) SetFinishAndCreateNewGatewayForRemainingToken(
	ctx context.Context,
	gateway *data_models.GatewayInstance,
) error {
	gateway.Finished = true
	return m.instanceStore.UpdateGatewayInstance(ctx, gateway)
}

// InclusiveGatewaysThatShouldFire scans the unfinished inclusive gateway
// instances of the process scope and returns those whose merge condition now
// holds because a branch that would have fed them died. Called after a node
// finished with fewer valid transitions than declared.
func (m *GatewayMerger) InclusiveGatewaysThatShouldFire(
	ctx context.Context,
	container *definition.ContainerDefinition,
	processInstanceID int64,
) ([]*data_models.GatewayInstance, error) {
	activeGateways, err := m.instanceStore.ListActiveGatewayInstances(ctx, processInstanceID)
	if err != nil {
		return nil, err
	}
	var shouldFire []*data_models.GatewayInstance
	for _, gateway := range activeGateways {
		gatewayDef, ok := container.FlowNodeByID(gateway.FlowNodeDefinitionID)
		if !ok || gatewayDef.GatewayType != definition.GatewayTypeInclusive {
			continue
		}
		merged, err := m.CheckMergingCondition(ctx, container, gatewayDef, gateway)
		if err != nil {
			return nil, err
		}
		if merged {
			shouldFire = append(shouldFire, gateway)
		}
	}
	return shouldFire, nil
}
