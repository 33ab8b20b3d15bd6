// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"testing"

	"github.com/absmach/fluxmsg/provider"
)

func TestRequestTrackerFailAll(t *testing.T) {
	tracker := newRequestTracker()

	reqs := make([]*provider.Future, 5)
	for i := range reqs {
		reqs[i] = provider.NewFuture(nil)
		tracker.add(reqs[i])
	}

	cause := errors.New("transport lost")
	tracker.failAll(cause)

	for i, req := range reqs {
		select {
		case <-req.Done():
		default:
			t.Fatalf("request %d left pending", i)
		}
		if !errors.Is(req.Err(), cause) {
			t.Fatalf("request %d error = %v, want %v", i, req.Err(), cause)
		}
	}
}

func TestRequestTrackerFailAllTwiceIsIdempotent(t *testing.T) {
	tracker := newRequestTracker()

	req := provider.NewFuture(nil)
	tracker.add(req)

	first := errors.New("first")
	second := errors.New("second")
	tracker.failAll(first)
	tracker.failAll(second)

	if !errors.Is(req.Err(), first) {
		t.Fatalf("error = %v, want the first failure", req.Err())
	}
}

func TestRequestTrackerRemove(t *testing.T) {
	tracker := newRequestTracker()

	req := provider.NewFuture(nil)
	tracker.add(req)
	tracker.remove(req)

	if tracker.size() != 0 {
		t.Fatalf("size = %d, want 0", tracker.size())
	}

	tracker.failAll(errors.New("ignored"))
	select {
	case <-req.Done():
		t.Fatal("removed request must not be failed")
	default:
	}
}

func TestRequestTrackerCompletedRequestToleratesLateFailure(t *testing.T) {
	tracker := newRequestTracker()

	req := provider.NewFuture(nil)
	tracker.add(req)
	req.Complete()

	tracker.failAll(errors.New("late"))

	if req.Err() != nil {
		t.Fatalf("completed request must keep success, got %v", req.Err())
	}
}
