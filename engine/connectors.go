// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/procflowio/procflow/common/log"
	"github.com/procflowio/procflow/common/log/tag"
	"github.com/procflowio/procflow/definition"
)

// loggingConnectorExecutor is the built-in connector backend: it records each
// activation without doing external work. Deployments with real connector
// implementations plug in their own ConnectorExecutor.
type loggingConnectorExecutor struct {
	logger log.Logger
}

func NewLoggingConnectorExecutor(logger log.Logger) ConnectorExecutor {
	return &loggingConnectorExecutor{logger: logger}
}

func (e *loggingConnectorExecutor) Execute(
	ctx context.Context, connector definition.ConnectorDefinition, variables map[string]interface{},
) error {
	e.logger.Info("executing connector",
		tag.ConnectorId(connector.ID),
		tag.Value(connector.ActivationEvent))
	return nil
}
