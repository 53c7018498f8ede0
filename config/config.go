// Copyright (c) 2024 ProcFlowIO Organization
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		// Log is the logging config
		Log Logger `yaml:"log"`

		// Database holds the backing store config.
		// When absent, the engine runs with the in-memory stores (tests, embedded mode).
		Database *DatabaseConfig `yaml:"database"`

		// Worker is the config for the flow-node work processor
		Worker WorkerConfig `yaml:"worker"`

		// MessageQueue selects the distributed work dispatcher.
		// When absent, work is dispatched through the in-process channel dispatcher.
		MessageQueue *MessageQueueConfig `yaml:"messageQueue"`
	}

	DatabaseConfig struct {
		// SQL is the SQL database config
		SQL *SQL `yaml:"sql"`
	}

	WorkerConfig struct {
		// Concurrency is the number of goroutines processing flow-node work.
		// If not specified then the default value of 10 is used.
		Concurrency int `yaml:"concurrency"`
		// BufferSize is the size of the buffered channel between the dispatcher
		// and the processing goroutines.
		// If not specified then the default value of 1000 is used.
		BufferSize int `yaml:"bufferSize"`
		// ShutdownTimeout bounds how long Stop waits for in-flight work.
		// If not specified then the default value of 10 seconds is used.
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	}

	MessageQueueConfig struct {
		// Pulsar is the Apache Pulsar config, the only supported queue for now
		Pulsar *PulsarMQConfig `yaml:"pulsar"`
	}

	PulsarMQConfig struct {
		// PulsarServiceURL is like pulsar://localhost:6650
		PulsarServiceURL string `yaml:"pulsarServiceURL"`
		// WorkTopic is the topic that carries flow-node work descriptors
		WorkTopic string `yaml:"workTopic"`
		// SubscriptionName is the shared subscription name of the work consumers.
		// If not specified then the default value of "procflow-workers" is used.
		SubscriptionName string `yaml:"subscriptionName"`
		// ConnectionTimeout is the timeout for establishing the client connection.
		// If not specified then the default value of 10 seconds is used.
		ConnectionTimeout time.Duration `yaml:"connectionTimeout"`
	}
)

// NewConfig returns a new decoded Config struct
func NewConfig(configPath string) (*Config, error) {
	log.Printf("Loading configFile=%v\n", configPath)

	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)

	if err := d.Decode(&config); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) ValidateAndSetDefaults() error {
	if c.Database != nil {
		if c.Database.SQL == nil {
			return fmt.Errorf("sql config is required when database is set")
		}
		sql := c.Database.SQL
		if anyAbsent(sql.DatabaseName, sql.ConnectAddr, sql.User) {
			return fmt.Errorf("some required configs are missing: sql.DatabaseName, sql.ConnectAddr, sql.User")
		}
	}
	workerConfig := &c.Worker
	if workerConfig.Concurrency == 0 {
		workerConfig.Concurrency = 10
	}
	if workerConfig.BufferSize == 0 {
		workerConfig.BufferSize = 1000
	}
	if workerConfig.ShutdownTimeout == 0 {
		workerConfig.ShutdownTimeout = 10 * time.Second
	}
	if c.MessageQueue != nil {
		if c.MessageQueue.Pulsar == nil {
			return fmt.Errorf("pulsar config is required when messageQueue is set")
		}
		pulsar := c.MessageQueue.Pulsar
		if anyAbsent(pulsar.PulsarServiceURL, pulsar.WorkTopic) {
			return fmt.Errorf("some required configs are missing: pulsar.PulsarServiceURL, pulsar.WorkTopic")
		}
		if pulsar.SubscriptionName == "" {
			pulsar.SubscriptionName = "procflow-workers"
		}
		if pulsar.ConnectionTimeout == 0 {
			pulsar.ConnectionTimeout = 10 * time.Second
		}
	}
	return nil
}

func anyAbsent(fields ...string) bool {
	for _, f := range fields {
		if f == "" {
			return true
		}
	}
	return false
}

// String converts the config object into a string for logging
func (c *Config) String() string {
	out, err := json.Marshal(c)
	if err != nil {
		panic("unable to marshal config to json")
	}
	return string(out)
}
