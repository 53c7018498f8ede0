// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"fmt"
	rawLog "log"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/procflowio/procflow/common/log"
	"github.com/procflowio/procflow/common/log/tag"
	"github.com/procflowio/procflow/config"
	"github.com/procflowio/procflow/engine"
	"github.com/procflowio/procflow/expression"
	"github.com/procflowio/procflow/locker"
	"github.com/procflowio/procflow/persistence"
	"github.com/procflowio/procflow/persistence/memory"
	storesql "github.com/procflowio/procflow/persistence/sql"
)

const FlagConfig = "config"

func StartProcFlowServerCli(c *cli.Context) {
	// register interrupt signal for graceful shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := c.String(FlagConfig)
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		rawLog.Fatalf("Unable to load config for path %v because of error %v", configPath, err)
	}

	_, shutdownFunc := StartProcFlowServer(rootCtx, cfg)
	// wait for os signals
	<-rootCtx.Done()

	ctx, cancF := context.WithTimeout(context.Background(), time.Second*10)
	defer cancF()
	err = shutdownFunc(ctx)
	if err != nil {
		fmt.Println("shutdown error:", err)
	}
}

type GracefulShutdown func(ctx context.Context) error

// StartProcFlowServer wires the stores, the expression evaluator, the work
// dispatcher and the orchestrator, and starts consuming work. The returned
// orchestrator is the embedding surface for starting and driving process
// instances.
func StartProcFlowServer(rootCtx context.Context, cfg *config.Config) (*engine.ProcessOrchestrator, GracefulShutdown) {
	zapLogger, err := cfg.Log.NewZapLogger()
	if err != nil {
		rawLog.Fatalf("Unable to create a new zap logger %v", err)
	}
	logger := log.NewLogger(zapLogger)
	logger.Info("config is loaded", tag.Value(cfg.String()))
	err = cfg.ValidateAndSetDefaults()
	if err != nil {
		logger.Fatal("config is invalid", tag.Error(err))
	}

	// the in-memory store always serves as the definition registry; it also
	// backs instances when no database is configured (tests, embedded mode)
	memoryStore := memory.NewStore()
	var instanceStore persistence.InstanceStore = memoryStore
	var waitingEventStore persistence.WaitingEventStore = memoryStore
	var closeStore func() error

	if cfg.Database != nil && cfg.Database.SQL != nil {
		db, err := storesql.NewDBSession(cfg.Database.SQL)
		if err != nil {
			logger.Fatal("error on persistence setup", tag.Error(err))
		}
		sqlStore := storesql.NewStore(db, logger)
		instanceStore = sqlStore
		waitingEventStore = sqlStore
		closeStore = db.Close
	}

	var orchestrator *engine.ProcessOrchestrator
	processor := engine.WorkProcessorFunc(func(ctx context.Context, work engine.WorkDescriptor) error {
		return orchestrator.ProcessWork(ctx, work)
	})

	var dispatcher engine.WorkDispatcher
	if cfg.MessageQueue != nil && cfg.MessageQueue.Pulsar != nil {
		dispatcher, err = engine.NewPulsarDispatcher(rootCtx, *cfg.MessageQueue.Pulsar, processor, logger)
		if err != nil {
			logger.Fatal("error on pulsar dispatcher setup", tag.Error(err))
		}
	} else {
		dispatcher = engine.NewInProcessDispatcher(rootCtx, cfg.Worker, processor, logger)
	}

	orchestrator = engine.NewProcessOrchestrator(
		memoryStore,
		instanceStore,
		waitingEventStore,
		expression.NewJSEvaluator(),
		locker.NewInMemoryLocker(),
		dispatcher,
		engine.NewLoggingConnectorExecutor(logger),
		logger,
	)

	if err := dispatcher.Start(); err != nil {
		logger.Fatal("Failed to start work dispatcher", tag.Error(err))
	}

	return orchestrator, func(ctx context.Context) error {
		// graceful shutdown: drain the dispatcher first, then close the store
		var errs error
		if err := dispatcher.Stop(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
		if closeStore != nil {
			if err := closeStore(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		return errs
	}
}
