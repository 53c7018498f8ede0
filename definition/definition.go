// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package definition

// This package holds the compiled, immutable process graph the engine executes.
// Definitions are produced by a front-end compiler which is out of scope here;
// the engine only reads them. All cross references are by id, never by pointer,
// except container nesting which is strictly tree shaped.

type (
	// ProcessDefinition is one deployed, versioned process graph.
	ProcessDefinition struct {
		ID      int64
		Name    string
		Version string
		// Enabled gates instance creation. Event sub-processes bypass the check
		// because they are started by the engine itself.
		Enabled bool
		// RequiredInputs is the start contract: input names that must be present
		// in the start inputs before any state is persisted.
		RequiredInputs []string
		// Data declares process variables with optional default-value expressions
		// evaluated at instance start.
		Data []DataDefinition
		// Connectors are executed around the process lifecycle, selected by
		// their activation event.
		Connectors []ConnectorDefinition
		// Container is the root flow-node container.
		Container *ContainerDefinition
	}

	// ContainerDefinition is a scope of flow nodes and transitions: the root
	// process body, a sub-process body, or an event sub-process body.
	ContainerDefinition struct {
		ID          int64
		FlowNodes   []*FlowNodeDefinition
		Transitions []*TransitionDefinition

		flowNodesByID   map[int64]*FlowNodeDefinition
		transitionsByID map[int64]*TransitionDefinition
	}

	// FlowNodeDefinition is one node of the graph.
	FlowNodeDefinition struct {
		ID   int64
		Name string
		Type FlowNodeType

		// Incoming and Outgoing are transition ids in declaration order.
		// Outgoing excludes the default transition.
		Incoming []int64
		Outgoing []int64
		// DefaultTransition is taken when no conditioned outgoing transition
		// evaluates true. Zero means none declared.
		DefaultTransition int64

		// GatewayType is set when Type is GATEWAY.
		GatewayType GatewayType

		// EndEventKind is set when Type is END_EVENT.
		EndEventKind EndEventKind

		// ErrorCode is the thrown code for error end events, and the caught code
		// filter for boundary events and event-sub-process start events.
		// Nil on catchers means catch-all.
		ErrorCode *string

		// BoundaryEvents are ids of BOUNDARY_EVENT nodes attached to this
		// activity. AttachedToID is the reverse link on the boundary node.
		BoundaryEvents []int64
		AttachedToID   int64

		// TriggeredByEvent marks an event sub-process; its start event carries
		// the catch filter.
		TriggeredByEvent bool

		// TargetProcessName is the called process for CALL_ACTIVITY nodes.
		TargetProcessName string

		// Container is the nested body for SUB_PROCESS nodes.
		Container *ContainerDefinition
	}

	// TransitionDefinition connects two flow nodes of the same container.
	TransitionDefinition struct {
		ID     int64
		Name   string
		Source int64
		Target int64
		// Condition is a boolean expression; empty means unconditional.
		Condition string
	}

	DataDefinition struct {
		Name string
		// DefaultValueExpression is evaluated at instance start; empty means
		// the variable starts unset.
		DefaultValueExpression string
	}

	ConnectorDefinition struct {
		ID              string
		Name            string
		ActivationEvent ConnectorActivationEvent
	}
)

// Index builds the id lookup maps of the container and all nested containers.
// Must be called once after construction, before the definition is shared.
func (c *ContainerDefinition) Index() {
	c.flowNodesByID = make(map[int64]*FlowNodeDefinition, len(c.FlowNodes))
	c.transitionsByID = make(map[int64]*TransitionDefinition, len(c.Transitions))
	for _, fn := range c.FlowNodes {
		c.flowNodesByID[fn.ID] = fn
		if fn.Container != nil {
			fn.Container.Index()
		}
	}
	for _, t := range c.Transitions {
		c.transitionsByID[t.ID] = t
	}
}

func (c *ContainerDefinition) FlowNodeByID(id int64) (*FlowNodeDefinition, bool) {
	fn, ok := c.flowNodesByID[id]
	return fn, ok
}

func (c *ContainerDefinition) TransitionByID(id int64) (*TransitionDefinition, bool) {
	t, ok := c.transitionsByID[id]
	return t, ok
}

// StartNodes returns the nodes where a token appears when the container starts:
// nodes with no incoming transitions, excluding boundary events and event
// sub-processes (those are event triggered, not flow triggered).
func (c *ContainerDefinition) StartNodes() []*FlowNodeDefinition {
	var starts []*FlowNodeDefinition
	for _, fn := range c.FlowNodes {
		if len(fn.Incoming) > 0 {
			continue
		}
		if fn.Type == FlowNodeTypeBoundaryEvent || fn.TriggeredByEvent {
			continue
		}
		starts = append(starts, fn)
	}
	return starts
}

// EventSubProcesses returns the event-triggered sub-processes of the container.
func (c *ContainerDefinition) EventSubProcesses() []*FlowNodeDefinition {
	var subs []*FlowNodeDefinition
	for _, fn := range c.FlowNodes {
		if fn.Type == FlowNodeTypeSubProcess && fn.TriggeredByEvent {
			subs = append(subs, fn)
		}
	}
	return subs
}

// ContainerOf returns the container that directly holds the given flow node id,
// searching this container and nested sub-process bodies.
func (c *ContainerDefinition) ContainerOf(flowNodeID int64) *ContainerDefinition {
	if _, ok := c.flowNodesByID[flowNodeID]; ok {
		return c
	}
	for _, fn := range c.FlowNodes {
		if fn.Container == nil {
			continue
		}
		if found := fn.Container.ContainerOf(flowNodeID); found != nil {
			return found
		}
	}
	return nil
}

// FindFlowNode resolves a flow node id anywhere in the definition tree.
func (p *ProcessDefinition) FindFlowNode(flowNodeID int64) (*FlowNodeDefinition, bool) {
	container := p.Container.ContainerOf(flowNodeID)
	if container == nil {
		return nil, false
	}
	return container.FlowNodeByID(flowNodeID)
}

// FindTransition resolves a transition id anywhere in the definition tree.
func (p *ProcessDefinition) FindTransition(transitionID int64) (*TransitionDefinition, bool) {
	return findTransition(p.Container, transitionID)
}

func findTransition(c *ContainerDefinition, transitionID int64) (*TransitionDefinition, bool) {
	if t, ok := c.TransitionByID(transitionID); ok {
		return t, true
	}
	for _, fn := range c.FlowNodes {
		if fn.Container == nil {
			continue
		}
		if t, ok := findTransition(fn.Container, transitionID); ok {
			return t, true
		}
	}
	return nil, false
}

// ConnectorsFor filters the process connectors by activation event.
func (p *ProcessDefinition) ConnectorsFor(event ConnectorActivationEvent) []ConnectorDefinition {
	var out []ConnectorDefinition
	for _, cn := range p.Connectors {
		if cn.ActivationEvent == event {
			out = append(out, cn)
		}
	}
	return out
}
