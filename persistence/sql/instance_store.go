// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/procflowio/procflow/common/log"
	"github.com/procflowio/procflow/common/log/tag"
	"github.com/procflowio/procflow/common/uuid"
	"github.com/procflowio/procflow/definition"
	"github.com/procflowio/procflow/persistence"
	"github.com/procflowio/procflow/persistence/data_models"
)

// Store is the Postgres-backed instance and waiting-event store.
// Each method is atomic: single-statement methods rely on statement atomicity,
// multi-statement methods run inside one transaction.
type Store struct {
	db     *sqlx.DB
	logger log.Logger
}

var _ persistence.InstanceStore = (*Store)(nil)
var _ persistence.WaitingEventStore = (*Store)(nil)

var defaultTxOpts = &sql.TxOptions{
	Isolation: sql.LevelReadCommitted,
}

func NewStore(db *sqlx.DB, logger log.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

type processInstanceRow struct {
	ID                       int64
	ExternalID               uuid.UUID
	ProcessDefinitionID      int64
	RootProcessInstanceID    int64
	CallerProcessInstanceID  int64
	CallerFlowNodeInstanceID int64
	CallerType               string
	State                    string
	StateCategory            string
	InterruptingEventID      int64
}

type flowNodeInstanceRow struct {
	ID                    int64
	FlowNodeDefinitionID  int64
	Name                  string
	Type                  string
	ProcessDefinitionID   int64
	ProcessInstanceID     int64
	RootProcessInstanceID int64
	AttachedToInstanceID  int64
	State                 string
	StateCategory         string
	Terminal              bool
	Stable                bool
	IsGateway             bool
	HitBys                string
	Finished              bool
}

type waitingEventRow struct {
	ID                        int64
	EventType                 string
	ProcessDefinitionID       int64
	ProcessInstanceID         int64
	RootProcessInstanceID     int64
	FlowNodeDefinitionID      int64
	RelatedActivityInstanceID int64
	ErrorCode                 *string
	Active                    bool
}

func (s *Store) CreateProcessInstance(ctx context.Context, instance *data_models.ProcessInstance) error {
	if instance.ExternalID == nil {
		instance.ExternalID = uuid.MustNewUUID()
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO process_instances
			(external_id, process_definition_id, root_process_instance_id,
			 caller_process_instance_id, caller_flow_node_instance_id, caller_type,
			 state, state_category, interrupting_event_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		instance.ExternalID, instance.ProcessDefinitionID, instance.RootProcessInstanceID,
		instance.CallerProcessInstanceID, instance.CallerFlowNodeInstanceID, instance.CallerType,
		instance.State, instance.StateCategory, instance.InterruptingEventID)
	if err := row.Scan(&instance.ID); err != nil {
		return err
	}
	if instance.RootProcessInstanceID == 0 {
		instance.RootProcessInstanceID = instance.ID
		_, err := s.db.ExecContext(ctx,
			`UPDATE process_instances SET root_process_instance_id = $1 WHERE id = $1`, instance.ID)
		return err
	}
	return nil
}

func (s *Store) GetProcessInstance(ctx context.Context, processInstanceID int64) (*data_models.ProcessInstance, error) {
	var row processInstanceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM process_instances WHERE id = $1`, processInstanceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: process instance %v", persistence.ErrNotFound, processInstanceID)
		}
		return nil, err
	}
	return processInstanceFromRow(&row), nil
}

func (s *Store) UpdateProcessInstanceState(
	ctx context.Context,
	processInstanceID int64,
	state data_models.ProcessInstanceState,
	category data_models.StateCategory,
) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE process_instances SET state = $2, state_category = $3
		 WHERE id = $1 AND state NOT IN ('COMPLETED', 'ABORTED', 'CANCELLED')`,
		processInstanceID, state, category)
	if err != nil {
		return err
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if updated == 0 {
		return fmt.Errorf("process instance %v is terminal or missing, cannot move to %v", processInstanceID, state)
	}
	return nil
}

func (s *Store) SetInterruptingEventID(ctx context.Context, processInstanceID int64, eventInstanceID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE process_instances SET interrupting_event_id = $2 WHERE id = $1`,
		processInstanceID, eventInstanceID)
	return err
}

func (s *Store) ListChildProcessInstances(ctx context.Context, callerProcessInstanceID int64) ([]*data_models.ProcessInstance, error) {
	var rows []processInstanceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM process_instances
		 WHERE caller_process_instance_id = $1
		   AND state NOT IN ('COMPLETED', 'ABORTED', 'CANCELLED')`,
		callerProcessInstanceID)
	if err != nil {
		return nil, err
	}
	children := make([]*data_models.ProcessInstance, 0, len(rows))
	for i := range rows {
		children = append(children, processInstanceFromRow(&rows[i]))
	}
	return children, nil
}

func (s *Store) CreateFlowNodeInstance(ctx context.Context, instance *data_models.FlowNodeInstance) error {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO flow_node_instances
			(flow_node_definition_id, name, type, process_definition_id, process_instance_id,
			 root_process_instance_id, attached_to_instance_id, state, state_category,
			 terminal, stable, is_gateway, hit_bys, finished)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, '', FALSE) RETURNING id`,
		instance.FlowNodeDefinitionID, instance.Name, instance.Type,
		instance.ProcessDefinitionID, instance.ProcessInstanceID, instance.RootProcessInstanceID,
		instance.AttachedToInstanceID, instance.State, instance.StateCategory,
		instance.Terminal, instance.Stable)
	return row.Scan(&instance.ID)
}

func (s *Store) GetFlowNodeInstance(ctx context.Context, flowNodeInstanceID int64) (*data_models.FlowNodeInstance, error) {
	var row flowNodeInstanceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM flow_node_instances WHERE id = $1
		 UNION ALL
		 SELECT * FROM archived_flow_node_instances WHERE id = $1`, flowNodeInstanceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: flow node instance %v", persistence.ErrNotFound, flowNodeInstanceID)
		}
		return nil, err
	}
	instance := flowNodeInstanceFromRow(&row)
	return &instance, nil
}

func (s *Store) UpdateFlowNodeState(ctx context.Context, instance *data_models.FlowNodeInstance) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE flow_node_instances
		 SET state = $2, state_category = $3, terminal = $4, stable = $5
		 WHERE id = $1`,
		instance.ID, instance.State, instance.StateCategory, instance.Terminal, instance.Stable)
	return err
}

func (s *Store) ListActiveFlowNodeInstances(ctx context.Context, processInstanceID int64) ([]*data_models.FlowNodeInstance, error) {
	var rows []flowNodeInstanceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM flow_node_instances
		 WHERE process_instance_id = $1
		   AND NOT terminal`,
		processInstanceID)
	if err != nil {
		return nil, err
	}
	active := make([]*data_models.FlowNodeInstance, 0, len(rows))
	for i := range rows {
		instance := flowNodeInstanceFromRow(&rows[i])
		active = append(active, &instance)
	}
	return active, nil
}

func (s *Store) CountActiveFlowNodeInstances(ctx context.Context, processInstanceID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM flow_node_instances
		 WHERE process_instance_id = $1
		   AND NOT terminal`,
		processInstanceID)
	return count, err
}

func (s *Store) ArchiveFlowNodeInstance(ctx context.Context, flowNodeInstanceID int64) error {
	tx, err := s.db.BeginTxx(ctx, defaultTxOpts)
	if err != nil {
		return err
	}
	err = s.doArchiveFlowNodeInstanceTx(ctx, tx, flowNodeInstanceID)
	if err != nil {
		err2 := tx.Rollback()
		if err2 != nil {
			s.logger.Error("error on rollback", tag.Error(err2))
		}
	} else {
		err = tx.Commit()
		if err != nil {
			s.logger.Error("error on committing transaction", tag.Error(err))
		}
	}
	return err
}

func (s *Store) doArchiveFlowNodeInstanceTx(ctx context.Context, tx *sqlx.Tx, flowNodeInstanceID int64) error {
	result, err := tx.ExecContext(ctx,
		`INSERT INTO archived_flow_node_instances
		 SELECT * FROM flow_node_instances WHERE id = $1`, flowNodeInstanceID)
	if err != nil {
		return err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return fmt.Errorf("%w: flow node instance %v", persistence.ErrNotFound, flowNodeInstanceID)
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM flow_node_instances WHERE id = $1`, flowNodeInstanceID)
	return err
}

func (s *Store) CreateGatewayInstance(ctx context.Context, instance *data_models.GatewayInstance) error {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO flow_node_instances
			(flow_node_definition_id, name, type, process_definition_id, process_instance_id,
			 root_process_instance_id, attached_to_instance_id, state, state_category,
			 terminal, stable, is_gateway, hit_bys, finished)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, $12, $13) RETURNING id`,
		instance.FlowNodeDefinitionID, instance.Name, instance.Type,
		instance.ProcessDefinitionID, instance.ProcessInstanceID, instance.RootProcessInstanceID,
		instance.AttachedToInstanceID, instance.State, instance.StateCategory,
		instance.Terminal, instance.Stable, encodeHitBys(instance.HitBys), instance.Finished)
	return row.Scan(&instance.ID)
}

func (s *Store) GetActiveGatewayInstance(
	ctx context.Context, processInstanceID int64, gatewayDefinitionID int64,
) (*data_models.GatewayInstance, error) {
	var row flowNodeInstanceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM flow_node_instances
		 WHERE process_instance_id = $1 AND flow_node_definition_id = $2
		   AND is_gateway AND NOT finished AND NOT terminal`,
		processInstanceID, gatewayDefinitionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: active gateway instance for definition %v in process instance %v",
				persistence.ErrNotFound, gatewayDefinitionID, processInstanceID)
		}
		return nil, err
	}
	return gatewayInstanceFromRow(&row), nil
}

func (s *Store) ListActiveGatewayInstances(ctx context.Context, processInstanceID int64) ([]*data_models.GatewayInstance, error) {
	var rows []flowNodeInstanceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM flow_node_instances
		 WHERE process_instance_id = $1 AND is_gateway AND NOT finished AND NOT terminal`,
		processInstanceID)
	if err != nil {
		return nil, err
	}
	active := make([]*data_models.GatewayInstance, 0, len(rows))
	for i := range rows {
		active = append(active, gatewayInstanceFromRow(&rows[i]))
	}
	return active, nil
}

func (s *Store) UpdateGatewayInstance(ctx context.Context, instance *data_models.GatewayInstance) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE flow_node_instances
		 SET hit_bys = $2, finished = $3, state = $4, state_category = $5, terminal = $6, stable = $7
		 WHERE id = $1 AND is_gateway`,
		instance.ID, encodeHitBys(instance.HitBys), instance.Finished,
		instance.State, instance.StateCategory, instance.Terminal, instance.Stable)
	return err
}

func (s *Store) SetProcessVariable(ctx context.Context, processInstanceID int64, name string, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO process_variables (process_instance_id, name, value)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (process_instance_id, name) DO UPDATE SET value = EXCLUDED.value`,
		processInstanceID, name, encoded)
	return err
}

func (s *Store) GetProcessVariables(ctx context.Context, processInstanceID int64) (map[string]interface{}, error) {
	type variableRow struct {
		Name  string
		Value []byte
	}
	var rows []variableRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT name, value FROM process_variables WHERE process_instance_id = $1`, processInstanceID)
	if err != nil {
		return nil, err
	}
	variables := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		var value interface{}
		if err := json.Unmarshal(row.Value, &value); err != nil {
			return nil, err
		}
		variables[row.Name] = value
	}
	return variables, nil
}

func processInstanceFromRow(row *processInstanceRow) *data_models.ProcessInstance {
	return &data_models.ProcessInstance{
		ID:                       row.ID,
		ExternalID:               row.ExternalID,
		ProcessDefinitionID:      row.ProcessDefinitionID,
		RootProcessInstanceID:    row.RootProcessInstanceID,
		CallerProcessInstanceID:  row.CallerProcessInstanceID,
		CallerFlowNodeInstanceID: row.CallerFlowNodeInstanceID,
		CallerType:               data_models.CallerType(row.CallerType),
		State:                    data_models.ProcessInstanceState(row.State),
		StateCategory:            data_models.StateCategory(row.StateCategory),
		InterruptingEventID:      row.InterruptingEventID,
	}
}

func flowNodeInstanceFromRow(row *flowNodeInstanceRow) data_models.FlowNodeInstance {
	return data_models.FlowNodeInstance{
		ID:                    row.ID,
		FlowNodeDefinitionID:  row.FlowNodeDefinitionID,
		Name:                  row.Name,
		Type:                  definition.FlowNodeType(row.Type),
		ProcessDefinitionID:   row.ProcessDefinitionID,
		ProcessInstanceID:     row.ProcessInstanceID,
		RootProcessInstanceID: row.RootProcessInstanceID,
		AttachedToInstanceID:  row.AttachedToInstanceID,
		State:                 data_models.FlowNodeStateID(row.State),
		StateCategory:         data_models.StateCategory(row.StateCategory),
		Terminal:              row.Terminal,
		Stable:                row.Stable,
	}
}

func gatewayInstanceFromRow(row *flowNodeInstanceRow) *data_models.GatewayInstance {
	return &data_models.GatewayInstance{
		FlowNodeInstance: flowNodeInstanceFromRow(row),
		HitBys:           decodeHitBys(row.HitBys),
		Finished:         row.Finished,
	}
}

func encodeHitBys(hitBys []int64) string {
	parts := make([]string, 0, len(hitBys))
	for _, hit := range hitBys {
		parts = append(parts, strconv.FormatInt(hit, 10))
	}
	return strings.Join(parts, ",")
}

func decodeHitBys(encoded string) []int64 {
	if encoded == "" {
		return nil
	}
	parts := strings.Split(encoded, ",")
	hitBys := make([]int64, 0, len(parts))
	for _, part := range parts {
		hit, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		hitBys = append(hitBys, hit)
	}
	return hitBys
}
