// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/fluxmsg/policy"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
connection:
  uri: amqp://broker:5672
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "amqp://broker:5672", cfg.Connection.URI)
	assert.Equal(t, 15*time.Second, cfg.Connection.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.Connection.CloseTimeout)
	assert.Equal(t, policy.DefaultQueuePrefetch, cfg.Prefetch.Queue)
	assert.True(t, cfg.Receive.LocalMessageExpiry)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
connection:
  uri: amqp://broker:5672
  username: alice
  password: secret
  connect_timeout: 3s
send:
  force_sync: true
  populate_user_id: true
  message_id_scheme: uuid
prefetch:
  queue: 50
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Connection.ConnectTimeout)
	assert.True(t, cfg.Send.ForceSync)
	assert.Equal(t, "uuid", cfg.Send.MessageIDScheme)
	assert.Equal(t, 50, cfg.Prefetch.Queue)

	opts := cfg.Options()
	assert.Equal(t, "amqp://broker:5672", opts.URI)
	assert.Equal(t, "alice", opts.Username)
	assert.True(t, opts.ForceSyncSend)
	assert.True(t, opts.PopulateUserID)
	assert.IsType(t, policy.UUIDMessageID{}, opts.MessageID)

	prefetch := opts.Prefetch.(*policy.DefaultPrefetch)
	assert.Equal(t, 50, prefetch.Queue)
}

func TestLoadRejectsConflictingSendModes(t *testing.T) {
	path := writeConfig(t, `
send:
  force_sync: true
  force_async: true
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownMessageIDScheme(t *testing.T) {
	path := writeConfig(t, `
send:
  message_id_scheme: vector-clock
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
