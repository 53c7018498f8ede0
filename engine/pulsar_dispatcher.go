// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/procflowio/procflow/common/log"
	"github.com/procflowio/procflow/common/log/tag"
	"github.com/procflowio/procflow/config"
)

// pulsarDispatcher publishes work descriptors to a Pulsar topic and consumes
// them on a shared subscription, so multiple engine nodes share one work
// queue. Failed work is negatively acknowledged and redelivered by the broker.
type pulsarDispatcher struct {
	rootCtx   context.Context
	cfg       config.PulsarMQConfig
	processor WorkProcessor
	logger    log.Logger

	client   pulsar.Client
	producer pulsar.Producer
	consumer pulsar.Consumer

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

func NewPulsarDispatcher(
	ctx context.Context, cfg config.PulsarMQConfig, processor WorkProcessor, logger log.Logger,
) (WorkDispatcher, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:               cfg.PulsarServiceURL,
		ConnectionTimeout: cfg.ConnectionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pulsar client: %w", err)
	}
	producer, err := client.CreateProducer(pulsar.ProducerOptions{
		Topic: cfg.WorkTopic,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create pulsar producer: %w", err)
	}
	consumer, err := client.Subscribe(pulsar.ConsumerOptions{
		Topic:            cfg.WorkTopic,
		SubscriptionName: cfg.SubscriptionName,
		Type:             pulsar.Shared,
	})
	if err != nil {
		producer.Close()
		client.Close()
		return nil, fmt.Errorf("failed to subscribe to pulsar work topic: %w", err)
	}
	return &pulsarDispatcher{
		rootCtx:   ctx,
		cfg:       cfg,
		processor: processor,
		logger:    logger,
		client:    client,
		producer:  producer,
		consumer:  consumer,
		quit:      make(chan struct{}),
	}, nil
}

func (d *pulsarDispatcher) Dispatch(work WorkDescriptor) error {
	payload, err := json.Marshal(work)
	if err != nil {
		return err
	}
	_, err = d.producer.Send(d.rootCtx, &pulsar.ProducerMessage{
		Payload: payload,
		// key by process instance so one instance's work stays ordered
		// within a key-shared subscription
		Key: fmt.Sprintf("%v", work.ProcessInstanceID),
	})
	return err
}

func (d *pulsarDispatcher) Start() error {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.consumeLoop()
	})
	return nil
}

func (d *pulsarDispatcher) consumeLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.rootCtx.Done():
			return
		case <-d.quit:
			return
		default:
		}

		message, err := d.consumer.Receive(d.rootCtx)
		if err != nil {
			select {
			case <-d.rootCtx.Done():
				return
			case <-d.quit:
				return
			default:
			}
			d.logger.Error("failed to receive from pulsar work topic", tag.Error(err))
			continue
		}

		var work WorkDescriptor
		if err := json.Unmarshal(message.Payload(), &work); err != nil {
			// malformed payloads are not retryable
			d.logger.Error("dropping malformed work message", tag.Error(err))
			d.consumer.Ack(message)
			continue
		}
		if err := d.processor.ProcessWork(d.rootCtx, work); err != nil {
			d.logger.Info("failed to process work, negative-acking for redelivery",
				tag.Error(err),
				tag.WorkId(work.ID.String()),
				tag.WorkType(string(work.Type)))
			d.consumer.Nack(message)
			continue
		}
		d.consumer.Ack(message)
	}
}

func (d *pulsarDispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.quit) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		d.consumer.Close()
		d.producer.Close()
		d.client.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
