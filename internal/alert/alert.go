// Package alert delivers anomaly notifications to external sinks. Delivery
// is fire-and-forget: at most one attempt per sink, errors are logged and
// counted, and Alert never blocks the caller.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tmater/dnswatch/internal/anomaly"
	"github.com/tmater/dnswatch/internal/logger"
	"github.com/tmater/dnswatch/internal/metrics"
	"github.com/tmater/dnswatch/internal/proto"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxInFlight = 64
)

// Event is the envelope handed to every sink.
type Event struct {
	ID       string            `json:"id"`
	Severity anomaly.Severity  `json:"severity"`
	Text     string            `json:"text"`
	Payload  proto.CheckResult `json:"payload"`
}

// Sink is one alert destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Options tune an Alerter. Zero values select the defaults.
type Options struct {
	Timeout     time.Duration
	MaxInFlight int
	Metrics     *metrics.Collector
}

// Alerter fans each alert out to its sinks on background goroutines.
type Alerter struct {
	sinks   []Sink
	timeout time.Duration
	slots   chan struct{}
	metrics *metrics.Collector
	log     *logrus.Entry

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns an Alerter delivering to sinks. With no sinks, alerts are
// only logged.
func New(sinks []Sink, opts Options) *Alerter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	return &Alerter{
		sinks:   sinks,
		timeout: opts.Timeout,
		slots:   make(chan struct{}, opts.MaxInFlight),
		metrics: opts.Metrics,
		log:     logger.For("alert"),
	}
}

// Alert logs text and starts one delivery per sink. When MaxInFlight
// deliveries are already running, the delivery is dropped.
func (a *Alerter) Alert(text string, severity anomaly.Severity, payload proto.CheckResult) {
	a.log.WithFields(logrus.Fields{
		"target":   payload.Key.Target,
		"resolver": payload.Key.Resolver,
		"rtype":    payload.Key.RecordType,
		"severity": severity,
	}).Warn(text)

	if len(a.sinks) == 0 {
		return
	}
	ev := Event{ID: uuid.NewString(), Severity: severity, Text: text, Payload: payload}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for _, s := range a.sinks {
		select {
		case a.slots <- struct{}{}:
		default:
			a.log.WithFields(logrus.Fields{"sink": s.Name(), "id": ev.ID}).Warn("alert dropped: too many deliveries in flight")
			a.metrics.ObserveAlert(s.Name(), "dropped")
			continue
		}
		a.wg.Add(1)
		go a.deliver(s, ev)
	}
}

func (a *Alerter) deliver(s Sink, ev Event) {
	defer func() {
		<-a.slots
		a.wg.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := safeDeliver(ctx, s, ev); err != nil {
		a.log.WithFields(logrus.Fields{"sink": s.Name(), "id": ev.ID}).WithError(err).Warn("alert delivery failed")
		a.metrics.ObserveAlert(s.Name(), "failed")
		return
	}
	a.metrics.ObserveAlert(s.Name(), "delivered")
}

func safeDeliver(ctx context.Context, s Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.Deliver(ctx, ev)
}

// Close stops accepting alerts and waits for running deliveries until ctx
// is done.
func (a *Alerter) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
