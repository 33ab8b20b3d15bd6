// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads client configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/absmach/fluxmsg/client"
	"github.com/absmach/fluxmsg/policy"
)

// Config holds all configuration for a messaging client connection.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Send       SendConfig       `yaml:"send"`
	Receive    ReceiveConfig    `yaml:"receive"`
	Prefetch   PrefetchConfig   `yaml:"prefetch"`
}

// ConnectionConfig holds transport-facing settings.
type ConnectionConfig struct {
	URI            string        `yaml:"uri"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SendConfig holds outbound behavior settings.
type SendConfig struct {
	ForceSync        bool   `yaml:"force_sync"`
	ForceAsync       bool   `yaml:"force_async"`
	ForceAsyncAcks   bool   `yaml:"force_async_acks"`
	PopulateUserID   bool   `yaml:"populate_user_id"`
	MessageIDScheme  string `yaml:"message_id_scheme"` // "sequence" or "uuid"
	DisablePresettle bool   `yaml:"disable_presettle"`
	PresettleAll     bool   `yaml:"presettle_all"`
}

// ReceiveConfig holds inbound behavior settings.
type ReceiveConfig struct {
	LocalMessageExpiry     bool `yaml:"local_message_expiry"`
	LocalMessagePriority   bool `yaml:"local_message_priority"`
	ReceiveLocalOnly       bool `yaml:"receive_local_only"`
	ReceiveNoWaitLocalOnly bool `yaml:"receive_no_wait_local_only"`
}

// PrefetchConfig holds per-destination-kind prefetch windows.
type PrefetchConfig struct {
	Queue        int `yaml:"queue"`
	Topic        int `yaml:"topic"`
	DurableTopic int `yaml:"durable_topic"`
	Browser      int `yaml:"browser"`
}

// Default returns a Config with standard defaults.
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			ConnectTimeout: 15 * time.Second,
			CloseTimeout:   60 * time.Second,
		},
		Send: SendConfig{
			MessageIDScheme: "sequence",
		},
		Receive: ReceiveConfig{
			LocalMessageExpiry: true,
		},
		Prefetch: PrefetchConfig{
			Queue:        policy.DefaultQueuePrefetch,
			Topic:        policy.DefaultTopicPrefetch,
			DurableTopic: policy.DefaultDurableTopicPrefetch,
			Browser:      policy.DefaultBrowserPrefetch,
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Send.ForceSync && c.Send.ForceAsync {
		return fmt.Errorf("send: force_sync and force_async are mutually exclusive")
	}
	switch c.Send.MessageIDScheme {
	case "", "sequence", "uuid":
	default:
		return fmt.Errorf("send: unknown message_id_scheme %q", c.Send.MessageIDScheme)
	}
	if c.Prefetch.Queue < 0 || c.Prefetch.Topic < 0 || c.Prefetch.DurableTopic < 0 || c.Prefetch.Browser < 0 {
		return fmt.Errorf("prefetch: windows cannot be negative")
	}
	return nil
}

// Options converts the configuration into client options.
func (c *Config) Options() *client.Options {
	opts := client.NewOptions().
		SetURI(c.Connection.URI).
		SetCredentials(c.Connection.Username, c.Connection.Password).
		SetForceSyncSend(c.Send.ForceSync).
		SetForceAsyncSend(c.Send.ForceAsync).
		SetForceAsyncAcks(c.Send.ForceAsyncAcks).
		SetPopulateUserID(c.Send.PopulateUserID)

	if c.Connection.ConnectTimeout > 0 {
		opts.SetConnectTimeout(c.Connection.ConnectTimeout)
	}
	if c.Connection.CloseTimeout > 0 {
		opts.SetCloseTimeout(c.Connection.CloseTimeout)
	}
	if c.Connection.SendTimeout > 0 {
		opts.SetSendTimeout(c.Connection.SendTimeout)
	}
	if c.Connection.RequestTimeout > 0 {
		opts.SetRequestTimeout(c.Connection.RequestTimeout)
	}

	opts.LocalMessageExpiry = c.Receive.LocalMessageExpiry
	opts.LocalMessagePriority = c.Receive.LocalMessagePriority
	opts.ReceiveLocalOnly = c.Receive.ReceiveLocalOnly
	opts.ReceiveNoWaitLocalOnly = c.Receive.ReceiveNoWaitLocalOnly

	opts.Prefetch = &policy.DefaultPrefetch{
		Queue:        c.Prefetch.Queue,
		Topic:        c.Prefetch.Topic,
		DurableTopic: c.Prefetch.DurableTopic,
		Browser:      c.Prefetch.Browser,
	}

	if c.Send.MessageIDScheme == "uuid" {
		opts.MessageID = policy.UUIDMessageID{}
	}

	if c.Send.PresettleAll && !c.Send.DisablePresettle {
		opts.Presettle = &policy.DefaultPresettle{All: true}
	}

	return opts
}
