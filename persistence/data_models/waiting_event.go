// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package data_models

// WaitingErrorEvent is a durable record correlating an error catcher to its
// matching criteria. Created when the catching construct starts, deleted when
// it triggers or its scope finishes.
type WaitingErrorEvent struct {
	ID        int64
	EventType WaitingEventType

	ProcessDefinitionID   int64
	ProcessInstanceID     int64
	RootProcessInstanceID int64

	// FlowNodeDefinitionID is the catching node: the boundary event definition,
	// or the event sub-process definition.
	FlowNodeDefinitionID int64

	// RelatedActivityInstanceID is the guarded activity instance for boundary
	// events; 0 for event sub-processes.
	RelatedActivityInstanceID int64

	// ErrorCode is the catch filter; nil catches any error code.
	ErrorCode *string

	Active bool
}

// Matches reports whether the record catches the given thrown code.
func (w *WaitingErrorEvent) Matches(code string) bool {
	if !w.Active {
		return false
	}
	return w.ErrorCode == nil || *w.ErrorCode == code
}

// IsCatchAll reports whether the record has no code filter.
func (w *WaitingErrorEvent) IsCatchAll() bool {
	return w.ErrorCode == nil
}
