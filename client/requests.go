// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"sync"

	"github.com/absmach/fluxmsg/provider"
)

// requestTracker holds every in-flight provider request so all of them can
// be failed at once when the provider is lost. Requests register before the
// provider call and deregister on every exit path; failing a request that
// completed meanwhile is a no-op because Future completion is idempotent.
type requestTracker struct {
	mu       sync.Mutex
	requests map[*provider.Future]struct{}
}

func newRequestTracker() *requestTracker {
	return &requestTracker{
		requests: make(map[*provider.Future]struct{}),
	}
}

func (t *requestTracker) add(req *provider.Future) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[req] = struct{}{}
}

func (t *requestTracker) remove(req *provider.Future) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.requests, req)
}

func (t *requestTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// failAll completes every tracked request with err. Requests stay tracked;
// their owners deregister them on the normal path.
func (t *requestTracker) failAll(err error) {
	t.mu.Lock()
	pending := make([]*provider.Future, 0, len(t.requests))
	for req := range t.requests {
		pending = append(pending, req)
	}
	t.mu.Unlock()

	for _, req := range pending {
		req.Fail(err)
	}
}
