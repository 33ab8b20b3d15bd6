// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureComplete(t *testing.T) {
	f := NewFuture(nil)
	go f.Complete()

	if err := f.Await(context.Background(), time.Second); err != nil {
		t.Fatalf("await: %v", err)
	}
}

func TestFutureFail(t *testing.T) {
	f := NewFuture(nil)
	cause := errors.New("remote refused")
	f.Fail(cause)

	if err := f.Await(context.Background(), time.Second); !errors.Is(err, cause) {
		t.Fatalf("await = %v, want %v", err, cause)
	}
	if !errors.Is(f.Err(), cause) {
		t.Fatalf("err = %v, want %v", f.Err(), cause)
	}
}

func TestFutureCompletionIsIdempotent(t *testing.T) {
	f := NewFuture(nil)
	f.Complete()
	f.Fail(errors.New("late failure"))

	if f.Err() != nil {
		t.Fatalf("first completion must win, got %v", f.Err())
	}

	g := NewFuture(nil)
	first := errors.New("first")
	g.Fail(first)
	g.Fail(errors.New("second"))
	g.Complete()

	if !errors.Is(g.Err(), first) {
		t.Fatalf("err = %v, want first failure", g.Err())
	}
}

func TestFutureAwaitTimeout(t *testing.T) {
	f := NewFuture(nil)

	err := f.Await(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("err = %v, want ErrRequestTimeout", err)
	}
}

func TestFutureAwaitContextCancel(t *testing.T) {
	f := NewFuture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := f.Await(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type recordingSync struct {
	successes int
	failures  []error
}

func (r *recordingSync) OnPendingSuccess() { r.successes++ }

func (r *recordingSync) OnPendingFailure(err error) { r.failures = append(r.failures, err) }

func TestFutureSynchronizationHooks(t *testing.T) {
	hook := &recordingSync{}
	f := NewFuture(hook)
	f.Complete()
	f.Complete()

	if hook.successes != 1 {
		t.Fatalf("success hook ran %d times", hook.successes)
	}

	hook = &recordingSync{}
	g := NewFuture(hook)
	cause := errors.New("nope")
	g.Fail(cause)

	if len(hook.failures) != 1 || !errors.Is(hook.failures[0], cause) {
		t.Fatalf("failure hook = %+v", hook.failures)
	}
}
