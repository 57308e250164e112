// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/stepup/internal/auth"
	"github.com/holomush/stepup/pkg/errutil"
)

func TestNewDispatcher_RequiresNotifier(t *testing.T) {
	_, err := auth.NewDispatcher(nil, auth.DispatcherConfig{})
	errutil.AssertErrorCode(t, err, "DISPATCHER_INVALID_CONFIG")
}

func TestDispatcher_DeliversAsynchronously(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	sent := make(chan auth.Message, 1)
	notifier := auth.NotifierFunc(func(_ context.Context, msg auth.Message) error {
		<-release
		sent <- msg
		return nil
	})

	d, err := auth.NewDispatcher(notifier, auth.DispatcherConfig{Workers: 1})
	require.NoError(t, err)
	defer d.Close()

	delivery := d.Dispatch(context.Background(), auth.Message{Recipient: "ana@example.com"})
	select {
	case <-delivery.Done():
		t.Fatal("delivery finished before the notifier returned")
	default:
	}
	assert.NoError(t, delivery.Err(), "pending delivery has no error")

	close(release)
	require.NoError(t, delivery.Wait(context.Background()))
	assert.Equal(t, "ana@example.com", (<-sent).Recipient)
}

func TestDispatcher_AbandonedWaitDoesNotCancelSend(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	notifier := auth.NotifierFunc(func(ctx context.Context, _ auth.Message) error {
		<-release
		return ctx.Err()
	})
	d, err := auth.NewDispatcher(notifier, auth.DispatcherConfig{Workers: 1})
	require.NoError(t, err)
	defer d.Close()

	reqCtx, cancel := context.WithCancel(context.Background())
	delivery := d.Dispatch(reqCtx, auth.Message{Recipient: "ana@example.com"})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer waitCancel()
	assert.ErrorIs(t, delivery.Wait(waitCtx), context.DeadlineExceeded)

	cancel()
	close(release)
	assert.NoError(t, delivery.Wait(context.Background()), "request cancellation does not reach the send")
}

func TestDispatcher_FullQueueFailsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	notifier := auth.NotifierFunc(func(context.Context, auth.Message) error {
		started <- struct{}{}
		<-release
		return nil
	})

	var buf bytes.Buffer
	d, err := auth.NewDispatcher(notifier, auth.DispatcherConfig{Workers: 1, QueueSize: 1},
		auth.WithDispatcherLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	require.NoError(t, err)

	first := d.Dispatch(context.Background(), auth.Message{})
	<-started
	second := d.Dispatch(context.Background(), auth.Message{})
	third := d.Dispatch(context.Background(), auth.Message{})

	<-third.Done()
	errutil.AssertErrorCode(t, third.Err(), "DISPATCH_QUEUE_FULL")
	assert.Contains(t, buf.String(), "passcode delivery dropped")

	close(release)
	d.Close()
	assert.NoError(t, first.Err())
	assert.NoError(t, second.Err(), "queued deliveries drain on close")
}

func TestDispatcher_SendFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	var buf bytes.Buffer
	d, err := auth.NewDispatcher(
		auth.NotifierFunc(func(context.Context, auth.Message) error { return errors.New("mailbox full") }),
		auth.DispatcherConfig{},
		auth.WithDispatcherLogger(slog.New(slog.NewJSONHandler(&buf, nil))),
	)
	require.NoError(t, err)
	defer d.Close()

	err = d.Dispatch(context.Background(), auth.Message{Recipient: "ana@example.com"}).Wait(context.Background())
	errutil.AssertErrorCode(t, err, "DISPATCH_SEND_FAILED")
	errutil.AssertErrorContext(t, err, "recipient", "ana@example.com")
	assert.Contains(t, buf.String(), "passcode delivery failed")
}

func TestDispatcher_SendTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, err := auth.NewDispatcher(
		auth.NotifierFunc(func(ctx context.Context, _ auth.Message) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		auth.DispatcherConfig{SendTimeout: 10 * time.Millisecond},
		auth.WithDispatcherLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	)
	require.NoError(t, err)
	defer d.Close()

	err = d.Dispatch(context.Background(), auth.Message{}).Wait(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_ClosedRejects(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, err := auth.NewDispatcher(auth.NotifierFunc(func(context.Context, auth.Message) error { return nil }), auth.DispatcherConfig{})
	require.NoError(t, err)
	d.Close()
	d.Close()

	delivery := d.Dispatch(context.Background(), auth.Message{})
	errutil.AssertErrorCode(t, delivery.Err(), "DISPATCH_CLOSED")
}
