// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/procflowio/procflow/common/log"
	"github.com/procflowio/procflow/common/log/tag"
	"github.com/procflowio/procflow/config"
)

// maxWorkAttempts bounds immediate in-process retries of one work descriptor
// before it is dropped with an error log.
const maxWorkAttempts = 10

// inProcessDispatcher runs work on a pool of goroutines fed by a buffered
// channel. It is the default dispatch backend when no message queue is
// configured; delivery is at least once within the process lifetime.
type inProcessDispatcher struct {
	rootCtx   context.Context
	cfg       config.WorkerConfig
	workChan  chan WorkDescriptor
	processor WorkProcessor
	logger    log.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

func NewInProcessDispatcher(
	ctx context.Context, cfg config.WorkerConfig, processor WorkProcessor, logger log.Logger,
) WorkDispatcher {
	return &inProcessDispatcher{
		rootCtx:   ctx,
		cfg:       cfg,
		workChan:  make(chan WorkDescriptor, cfg.BufferSize),
		processor: processor,
		logger:    logger,
		quit:      make(chan struct{}),
	}
}

func (d *inProcessDispatcher) Dispatch(work WorkDescriptor) error {
	select {
	case <-d.quit:
		return fmt.Errorf("work dispatcher is stopped")
	case d.workChan <- work:
		return nil
	}
}

func (d *inProcessDispatcher) Start() error {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Concurrency; i++ {
			d.wg.Add(1)
			go d.workerLoop()
		}
	})
	return nil
}

func (d *inProcessDispatcher) workerLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.rootCtx.Done():
			return
		case <-d.quit:
			return
		case work := <-d.workChan:
			d.processOnce(work)
		}
	}
}

func (d *inProcessDispatcher) processOnce(work WorkDescriptor) {
	err := d.processor.ProcessWork(d.rootCtx, work)
	if err == nil {
		return
	}
	work.Attempts++
	if work.Attempts >= maxWorkAttempts {
		d.logger.Error("giving up on work after too many attempts",
			tag.Error(err),
			tag.WorkId(work.ID.String()),
			tag.WorkType(string(work.Type)),
			tag.ProcessInstanceId(work.ProcessInstanceID))
		return
	}
	d.logger.Info("failed to process work, put back to queue for retry",
		tag.Error(err),
		tag.WorkId(work.ID.String()),
		tag.WorkType(string(work.Type)))
	// requeue without blocking the worker; drop when the buffer is full
	select {
	case d.workChan <- work:
	default:
		d.logger.Error("work buffer full, dropping retry", tag.WorkId(work.ID.String()))
	}
}

func (d *inProcessDispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.quit) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
