// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"time"

	"github.com/absmach/fluxmsg/core"
)

// browseTimeout bounds how long Next waits for the broker to stream the
// next queued message before reporting the end of the browse.
const browseTimeout = 5 * time.Second

// Browser iterates a queue without consuming. Deliveries over a browsing
// consumer are never settled destructively.
type Browser struct {
	consumer *Consumer
}

// Queue returns the browsed destination.
func (b *Browser) Queue() core.Destination {
	return b.consumer.Destination()
}

// Selector returns the browser's selector expression.
func (b *Browser) Selector() string {
	return b.consumer.Selector()
}

// Next returns the next queued message, or nil when the browse is drained.
func (b *Browser) Next(ctx context.Context) (*core.Message, error) {
	if err := b.consumer.checkClosed(); err != nil {
		return nil, err
	}
	if !b.consumer.IsStarted() {
		if err := b.consumer.start(); err != nil {
			return nil, err
		}
	}
	return b.consumer.receive(ctx, browseTimeout, false)
}

// Close ends the browse and destroys the underlying consumer.
func (b *Browser) Close() error {
	return b.consumer.Close()
}
