// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"

	"github.com/procflowio/procflow/persistence/data_models"
)

func (s *Store) CreateWaitingErrorEvent(ctx context.Context, event *data_models.WaitingErrorEvent) error {
	event.Active = true
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO waiting_error_events
			(event_type, process_definition_id, process_instance_id, root_process_instance_id,
			 flow_node_definition_id, related_activity_instance_id, error_code, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE) RETURNING id`,
		event.EventType, event.ProcessDefinitionID, event.ProcessInstanceID,
		event.RootProcessInstanceID, event.FlowNodeDefinitionID,
		event.RelatedActivityInstanceID, event.ErrorCode)
	return row.Scan(&event.ID)
}

func (s *Store) ListWaitingErrorEvents(
	ctx context.Context, processInstanceID int64, eventType data_models.WaitingEventType,
) ([]*data_models.WaitingErrorEvent, error) {
	var rows []waitingEventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM waiting_error_events
		 WHERE process_instance_id = $1 AND event_type = $2 AND active`,
		processInstanceID, eventType)
	if err != nil {
		return nil, err
	}
	return waitingEventsFromRows(rows), nil
}

func (s *Store) ListBoundaryWaitingEvents(ctx context.Context, activityInstanceID int64) ([]*data_models.WaitingErrorEvent, error) {
	var rows []waitingEventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM waiting_error_events
		 WHERE related_activity_instance_id = $1 AND event_type = $2 AND active`,
		activityInstanceID, data_models.WaitingEventTypeBoundaryEvent)
	if err != nil {
		return nil, err
	}
	return waitingEventsFromRows(rows), nil
}

func (s *Store) DeleteWaitingErrorEvent(ctx context.Context, waitingEventID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM waiting_error_events WHERE id = $1`, waitingEventID)
	return err
}

func (s *Store) DeleteWaitingEventsOfProcessInstance(ctx context.Context, processInstanceID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM waiting_error_events WHERE process_instance_id = $1`, processInstanceID)
	return err
}

func waitingEventsFromRows(rows []waitingEventRow) []*data_models.WaitingErrorEvent {
	events := make([]*data_models.WaitingErrorEvent, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		events = append(events, &data_models.WaitingErrorEvent{
			ID:                        row.ID,
			EventType:                 data_models.WaitingEventType(row.EventType),
			ProcessDefinitionID:       row.ProcessDefinitionID,
			ProcessInstanceID:         row.ProcessInstanceID,
			RootProcessInstanceID:     row.RootProcessInstanceID,
			FlowNodeDefinitionID:      row.FlowNodeDefinitionID,
			RelatedActivityInstanceID: row.RelatedActivityInstanceID,
			ErrorCode:                 row.ErrorCode,
			Active:                    row.Active,
		})
	}
	return events
}
