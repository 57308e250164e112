// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/stepup/pkg/errutil"
)

// Dispatcher defaults.
const (
	DefaultDispatchWorkers     = 4
	DefaultDispatchQueueSize   = 64
	DefaultDispatchSendTimeout = 30 * time.Second
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Recipient string
	Name      string
	Title     string
	Body      string
}

// Notifier delivers a message out-of-band.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f NotifierFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Delivery is the pending result of a dispatched message.
type Delivery struct {
	done chan struct{}
	err  error
}

func newDelivery() *Delivery {
	return &Delivery{done: make(chan struct{})}
}

func failedDelivery(err error) *Delivery {
	d := newDelivery()
	d.finish(err)
	return d
}

func (d *Delivery) finish(err error) {
	d.err = err
	close(d.done)
}

// Done is closed once the delivery has succeeded or failed.
func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Err returns the delivery error. It is only meaningful after Done is closed.
func (d *Delivery) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Wait blocks until the delivery finishes or ctx is done. Abandoning the
// wait does not cancel the send.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatcherConfig configures the delivery worker pool.
type DispatcherConfig struct {
	// Workers is the number of concurrent senders.
	// Defaults to DefaultDispatchWorkers if zero or negative.
	Workers int

	// QueueSize is the number of deliveries that may wait for a worker.
	// Defaults to DefaultDispatchQueueSize if zero or negative.
	QueueSize int

	// SendTimeout bounds each Notifier.Send call.
	// Defaults to DefaultDispatchSendTimeout if zero or negative.
	SendTimeout time.Duration
}

type dispatchJob struct {
	ctx      context.Context
	msg      Message
	delivery *Delivery
}

// Dispatcher hands messages to a Notifier on a bounded worker pool. A full
// queue fails the delivery immediately instead of blocking the caller.
//
// Call Close to drain the queue and stop the workers.
type Dispatcher struct {
	notifier    Notifier
	logger      *slog.Logger
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan dispatchJob
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger for delivery failures.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a Dispatcher and starts its workers.
func NewDispatcher(notifier Notifier, cfg DispatcherConfig, opts ...DispatcherOption) (*Dispatcher, error) {
	if notifier == nil {
		return nil, oops.Code("DISPATCHER_INVALID_CONFIG").Errorf("notifier cannot be nil")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultDispatchWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultDispatchQueueSize
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = DefaultDispatchSendTimeout
	}

	d := &Dispatcher{
		notifier:    notifier,
		logger:      slog.Default(),
		sendTimeout: sendTimeout,
		jobs:        make(chan dispatchJob, queueSize),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(workers)
	for range workers {
		go d.worker()
	}
	return d, nil
}

// Dispatch queues msg for delivery and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) *Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		RecordOTPDelivery(OutcomeDropped)
		return failedDelivery(oops.Code("DISPATCH_CLOSED").Errorf("dispatcher is closed"))
	}

	job := dispatchJob{
		ctx:      context.WithoutCancel(ctx),
		msg:      msg,
		delivery: newDelivery(),
	}
	DispatchQueueDepth.Inc()
	select {
	case d.jobs <- job:
		return job.delivery
	default:
		DispatchQueueDepth.Dec()
		RecordOTPDelivery(OutcomeDropped)
		err := oops.Code("DISPATCH_QUEUE_FULL").
			With("recipient", msg.Recipient).
			Errorf("delivery queue is full")
		errutil.LogError(d.logger, "passcode delivery dropped", err)
		return failedDelivery(err)
	}
}

// Close stops accepting messages, waits for queued deliveries to finish and
// stops the workers. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		DispatchQueueDepth.Dec()
		d.send(job)
	}
}

func (d *Dispatcher) send(job dispatchJob) {
	ctx, cancel := context.WithTimeout(job.ctx, d.sendTimeout)
	defer cancel()

	if err := d.notifier.Send(ctx, job.msg); err != nil {
		RecordOTPDelivery(OutcomeFailed)
		wrapped := oops.Code("DISPATCH_SEND_FAILED").
			With("recipient", job.msg.Recipient).
			Wrap(err)
		errutil.LogError(d.logger, "passcode delivery failed", wrapped)
		job.delivery.finish(wrapped)
		return
	}
	RecordOTPDelivery(OutcomeSent)
	job.delivery.finish(nil)
}
