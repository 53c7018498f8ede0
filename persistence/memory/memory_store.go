// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/procflowio/procflow/common/uuid"
	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/persistence"
	"github.com/procflowio/procflow/persistence/data_models"
)

// Store is a mutex-guarded in-memory implementation of all persistence
// contracts, used by tests and the embedded mode. Every method is atomic
// under one lock, matching the per-method atomicity the engine expects.
type Store struct {
	sync.Mutex

	nextID int64

	definitions       map[int64]*definition.ProcessDefinition
	definitionsByName map[string]*definition.ProcessDefinition

	processInstances  map[int64]*data_models.ProcessInstance
	flowNodeInstances map[int64]*data_models.FlowNodeInstance
	gatewayInstances  map[int64]*data_models.GatewayInstance
	archived          map[int64]*data_models.FlowNodeInstance
	variables         map[int64]map[string]interface{}
	waitingEvents     map[int64]*data_models.WaitingErrorEvent
}

var _ persistence.DefinitionStore = (*Store)(nil)
var _ persistence.InstanceStore = (*Store)(nil)
var _ persistence.WaitingEventStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		definitions:       map[int64]*definition.ProcessDefinition{},
		definitionsByName: map[string]*definition.ProcessDefinition{},
		processInstances:  map[int64]*data_models.ProcessInstance{},
		flowNodeInstances: map[int64]*data_models.FlowNodeInstance{},
		gatewayInstances:  map[int64]*data_models.GatewayInstance{},
		archived:          map[int64]*data_models.FlowNodeInstance{},
		variables:         map[int64]map[string]interface{}{},
		waitingEvents:     map[int64]*data_models.WaitingErrorEvent{},
	}
}

func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

// RegisterProcessDefinition deploys a definition into the store, indexing its
// containers. Later registrations under the same name win the name lookup.
func (s *Store) RegisterProcessDefinition(def *definition.ProcessDefinition) {
	s.Lock()
	defer s.Unlock()
	def.Container.Index()
	s.definitions[def.ID] = def
	s.definitionsByName[def.Name] = def
}

func (s *Store) GetProcessDefinition(_ context.Context, processDefinitionID int64) (*definition.ProcessDefinition, error) {
	s.Lock()
	defer s.Unlock()
	def, ok := s.definitions[processDefinitionID]
	if !ok {
		return nil, fmt.Errorf("%w: process definition %v", persistence.ErrNotFound, processDefinitionID)
	}
	return def, nil
}

func (s *Store) GetLatestProcessDefinitionByName(_ context.Context, name string) (*definition.ProcessDefinition, error) {
	s.Lock()
	defer s.Unlock()
	def, ok := s.definitionsByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: process definition named %q", persistence.ErrNotFound, name)
	}
	return def, nil
}

func (s *Store) CreateProcessInstance(_ context.Context, instance *data_models.ProcessInstance) error {
	s.Lock()
	defer s.Unlock()
	instance.ID = s.newID()
	if instance.ExternalID == nil {
		instance.ExternalID = uuid.MustNewUUID()
	}
	if instance.RootProcessInstanceID == 0 {
		instance.RootProcessInstanceID = instance.ID
	}
	copied := *instance
	s.processInstances[instance.ID] = &copied
	return nil
}

func (s *Store) GetProcessInstance(_ context.Context, processInstanceID int64) (*data_models.ProcessInstance, error) {
	s.Lock()
	defer s.Unlock()
	instance, ok := s.processInstances[processInstanceID]
	if !ok {
		return nil, fmt.Errorf("%w: process instance %v", persistence.ErrNotFound, processInstanceID)
	}
	copied := *instance
	return &copied, nil
}

func (s *Store) UpdateProcessInstanceState(
	_ context.Context,
	processInstanceID int64,
	state data_models.ProcessInstanceState,
	category data_models.StateCategory,
) error {
	s.Lock()
	defer s.Unlock()
	instance, ok := s.processInstances[processInstanceID]
	if !ok {
		return fmt.Errorf("%w: process instance %v", persistence.ErrNotFound, processInstanceID)
	}
	if instance.State.IsTerminal() && instance.State != state {
		return fmt.Errorf("process instance %v is already terminal in state %v", processInstanceID, instance.State)
	}
	instance.State = state
	instance.StateCategory = category
	return nil
}

func (s *Store) SetInterruptingEventID(_ context.Context, processInstanceID int64, eventInstanceID int64) error {
	s.Lock()
	defer s.Unlock()
	instance, ok := s.processInstances[processInstanceID]
	if !ok {
		return fmt.Errorf("%w: process instance %v", persistence.ErrNotFound, processInstanceID)
	}
	instance.InterruptingEventID = eventInstanceID
	return nil
}

func (s *Store) ListChildProcessInstances(_ context.Context, callerProcessInstanceID int64) ([]*data_models.ProcessInstance, error) {
	s.Lock()
	defer s.Unlock()
	var children []*data_models.ProcessInstance
	for _, instance := range s.processInstances {
		if instance.CallerProcessInstanceID == callerProcessInstanceID && !instance.State.IsTerminal() {
			copied := *instance
			children = append(children, &copied)
		}
	}
	return children, nil
}

func (s *Store) CreateFlowNodeInstance(_ context.Context, instance *data_models.FlowNodeInstance) error {
	s.Lock()
	defer s.Unlock()
	instance.ID = s.newID()
	copied := *instance
	s.flowNodeInstances[instance.ID] = &copied
	return nil
}

func (s *Store) GetFlowNodeInstance(_ context.Context, flowNodeInstanceID int64) (*data_models.FlowNodeInstance, error) {
	s.Lock()
	defer s.Unlock()
	if instance, ok := s.flowNodeInstances[flowNodeInstanceID]; ok {
		copied := *instance
		return &copied, nil
	}
	if gateway, ok := s.gatewayInstances[flowNodeInstanceID]; ok {
		copied := gateway.FlowNodeInstance
		return &copied, nil
	}
	if instance, ok := s.archived[flowNodeInstanceID]; ok {
		copied := *instance
		return &copied, nil
	}
	return nil, fmt.Errorf("%w: flow node instance %v", persistence.ErrNotFound, flowNodeInstanceID)
}

func (s *Store) UpdateFlowNodeState(_ context.Context, instance *data_models.FlowNodeInstance) error {
	s.Lock()
	defer s.Unlock()
	target, ok := s.flowNodeInstances[instance.ID]
	if !ok {
		gateway, gok := s.gatewayInstances[instance.ID]
		if !gok {
			return fmt.Errorf("%w: flow node instance %v", persistence.ErrNotFound, instance.ID)
		}
		target = &gateway.FlowNodeInstance
	}
	target.State = instance.State
	target.StateCategory = instance.StateCategory
	target.Terminal = instance.Terminal
	target.Stable = instance.Stable
	return nil
}

func (s *Store) ListActiveFlowNodeInstances(_ context.Context, processInstanceID int64) ([]*data_models.FlowNodeInstance, error) {
	s.Lock()
	defer s.Unlock()
	var active []*data_models.FlowNodeInstance
	for _, instance := range s.flowNodeInstances {
		if instance.ProcessInstanceID == processInstanceID && !instance.Terminal {
			copied := *instance
			active = append(active, &copied)
		}
	}
	for _, gateway := range s.gatewayInstances {
		if gateway.ProcessInstanceID == processInstanceID && !gateway.Terminal {
			copied := gateway.FlowNodeInstance
			active = append(active, &copied)
		}
	}
	return active, nil
}

func (s *Store) CountActiveFlowNodeInstances(ctx context.Context, processInstanceID int64) (int, error) {
	active, err := s.ListActiveFlowNodeInstances(ctx, processInstanceID)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

func (s *Store) ArchiveFlowNodeInstance(_ context.Context, flowNodeInstanceID int64) error {
	s.Lock()
	defer s.Unlock()
	if instance, ok := s.flowNodeInstances[flowNodeInstanceID]; ok {
		delete(s.flowNodeInstances, flowNodeInstanceID)
		s.archived[flowNodeInstanceID] = instance
		return nil
	}
	if gateway, ok := s.gatewayInstances[flowNodeInstanceID]; ok {
		delete(s.gatewayInstances, flowNodeInstanceID)
		s.archived[flowNodeInstanceID] = &gateway.FlowNodeInstance
		return nil
	}
	return fmt.Errorf("%w: flow node instance %v", persistence.ErrNotFound, flowNodeInstanceID)
}

func (s *Store) CreateGatewayInstance(_ context.Context, instance *data_models.GatewayInstance) error {
	s.Lock()
	defer s.Unlock()
	instance.ID = s.newID()
	copied := *instance
	copied.HitBys = append([]int64(nil), instance.HitBys...)
	s.gatewayInstances[instance.ID] = &copied
	return nil
}

func (s *Store) GetActiveGatewayInstance(
	_ context.Context, processInstanceID int64, gatewayDefinitionID int64,
) (*data_models.GatewayInstance, error) {
	s.Lock()
	defer s.Unlock()
	for _, gateway := range s.gatewayInstances {
		if gateway.ProcessInstanceID == processInstanceID &&
			gateway.FlowNodeDefinitionID == gatewayDefinitionID &&
			!gateway.Finished && !gateway.Terminal {
			return copyGateway(gateway), nil
		}
	}
	return nil, fmt.Errorf("%w: active gateway instance for definition %v in process instance %v",
		persistence.ErrNotFound, gatewayDefinitionID, processInstanceID)
}

func (s *Store) ListActiveGatewayInstances(_ context.Context, processInstanceID int64) ([]*data_models.GatewayInstance, error) {
	s.Lock()
	defer s.Unlock()
	var active []*data_models.GatewayInstance
	for _, gateway := range s.gatewayInstances {
		if gateway.ProcessInstanceID == processInstanceID && !gateway.Finished && !gateway.Terminal {
			active = append(active, copyGateway(gateway))
		}
	}
	return active, nil
}

func (s *Store) UpdateGatewayInstance(_ context.Context, instance *data_models.GatewayInstance) error {
	s.Lock()
	defer s.Unlock()
	gateway, ok := s.gatewayInstances[instance.ID]
	if !ok {
		return fmt.Errorf("%w: gateway instance %v", persistence.ErrNotFound, instance.ID)
	}
	gateway.HitBys = append([]int64(nil), instance.HitBys...)
	gateway.Finished = instance.Finished
	gateway.State = instance.State
	gateway.StateCategory = instance.StateCategory
	gateway.Terminal = instance.Terminal
	gateway.Stable = instance.Stable
	return nil
}

func (s *Store) SetProcessVariable(_ context.Context, processInstanceID int64, name string, value interface{}) error {
	s.Lock()
	defer s.Unlock()
	vars, ok := s.variables[processInstanceID]
	if !ok {
		vars = map[string]interface{}{}
		s.variables[processInstanceID] = vars
	}
	vars[name] = value
	return nil
}

func (s *Store) GetProcessVariables(_ context.Context, processInstanceID int64) (map[string]interface{}, error) {
	s.Lock()
	defer s.Unlock()
	out := map[string]interface{}{}
	for name, value := range s.variables[processInstanceID] {
		out[name] = value
	}
	return out, nil
}

func (s *Store) CreateWaitingErrorEvent(_ context.Context, event *data_models.WaitingErrorEvent) error {
	s.Lock()
	defer s.Unlock()
	event.ID = s.newID()
	event.Active = true
	copied := *event
	s.waitingEvents[event.ID] = &copied
	return nil
}

func (s *Store) ListWaitingErrorEvents(
	_ context.Context, processInstanceID int64, eventType data_models.WaitingEventType,
) ([]*data_models.WaitingErrorEvent, error) {
	s.Lock()
	defer s.Unlock()
	var events []*data_models.WaitingErrorEvent
	for _, event := range s.waitingEvents {
		if event.ProcessInstanceID == processInstanceID && event.EventType == eventType && event.Active {
			copied := *event
			events = append(events, &copied)
		}
	}
	return events, nil
}

func (s *Store) ListBoundaryWaitingEvents(_ context.Context, activityInstanceID int64) ([]*data_models.WaitingErrorEvent, error) {
	s.Lock()
	defer s.Unlock()
	var events []*data_models.WaitingErrorEvent
	for _, event := range s.waitingEvents {
		if event.EventType == data_models.WaitingEventTypeBoundaryEvent &&
			event.RelatedActivityInstanceID == activityInstanceID && event.Active {
			copied := *event
			events = append(events, &copied)
		}
	}
	return events, nil
}

func (s *Store) DeleteWaitingErrorEvent(_ context.Context, waitingEventID int64) error {
	s.Lock()
	defer s.Unlock()
	delete(s.waitingEvents, waitingEventID)
	return nil
}

func (s *Store) DeleteWaitingEventsOfProcessInstance(_ context.Context, processInstanceID int64) error {
	s.Lock()
	defer s.Unlock()
	for id, event := range s.waitingEvents {
		if event.ProcessInstanceID == processInstanceID {
			delete(s.waitingEvents, id)
		}
	}
	return nil
}

// ArchivedFlowNodeInstances returns the archived instances of a process
// instance, for inspection.
func (s *Store) ArchivedFlowNodeInstances(processInstanceID int64) []*data_models.FlowNodeInstance {
	s.Lock()
	defer s.Unlock()
	var out []*data_models.FlowNodeInstance
	for _, instance := range s.archived {
		if instance.ProcessInstanceID == processInstanceID {
			copied := *instance
			out = append(out, &copied)
		}
	}
	return out
}

// ArchivedFlowNodeInstance looks up an archived instance, for inspection.
func (s *Store) ArchivedFlowNodeInstance(flowNodeInstanceID int64) (*data_models.FlowNodeInstance, bool) {
	s.Lock()
	defer s.Unlock()
	instance, ok := s.archived[flowNodeInstanceID]
	if !ok {
		return nil, false
	}
	copied := *instance
	return &copied, true
}

func copyGateway(gateway *data_models.GatewayInstance) *data_models.GatewayInstance {
	copied := *gateway
	copied.HitBys = append([]int64(nil), gateway.HitBys...)
	return &copied
}
