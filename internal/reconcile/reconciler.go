// Package reconcile keeps a live comment forest per observed topic.
//
// One store subscription is held per topic while anyone observes it. Every
// delivered snapshot is rebuilt into a forest and pushed to the observers;
// nodes whose content did not change keep their identity across rebuilds.
// When the subscription fails the last good forest keeps being served while
// the subscription is retried with exponential backoff.
package reconcile

import (
	"context"
	"sync"
	"time"

	"forum/internal/errs"
	"forum/internal/store"
	"forum/internal/thread"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	activeTopics = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forum_reconciler_active_topics",
		Help: "Topics with a live comment subscription",
	})

	subscriptionFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_reconciler_subscription_faults_total",
		Help: "Failed comment subscriptions by severity",
	}, []string{"persistent"})

	rebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forum_reconciler_rebuilds_total",
		Help: "Forest rebuilds by whether observers were notified",
	}, []string{"published"})
)

type State int

const (
	Unsubscribed State = iota
	Subscribing
	Live
	Error
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	case Error:
		return "error"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// View is what observers receive. In the Error state Forest is the last
// forest built before the fault, or nil if none was.
type View struct {
	TopicID string                  `json:"topic_id"`
	State   State                   `json:"state"`
	Forest  thread.Forest           `json:"forest"`
	Fault   *errs.SubscriptionFault `json:"-"`
}

type Config struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// FaultThreshold is the number of consecutive failures after which a
	// fault is reported as persistent.
	FaultThreshold int
	Logger         *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		FaultThreshold: 3,
	}
}

type Reconciler struct {
	sub    store.Subscriber
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

type session struct {
	topicID   string
	cancel    context.CancelFunc
	observers map[*Observer]struct{}
	view      View
}

func New(sub store.Subscriber, cfg Config) *Reconciler {
	def := DefaultConfig()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	if cfg.FaultThreshold < 1 {
		cfg.FaultThreshold = def.FaultThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.L()
	}
	return &Reconciler{
		sub:      sub,
		cfg:      cfg,
		logger:   logger.Named("reconcile"),
		sessions: make(map[string]*session),
	}
}

// Observe registers interest in a topic. The first observer of a topic opens
// its subscription. The observer receives the current view right away.
// After Close the returned observer's channel is already closed.
func (r *Reconciler) Observe(topicID string) *Observer {
	o := &Observer{r: r, topicID: topicID, ch: make(chan View, 1)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(o.ch)
		o.closed = true
		return o
	}

	s, ok := r.sessions[topicID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		s = &session{
			topicID:   topicID,
			cancel:    cancel,
			observers: make(map[*Observer]struct{}),
			view:      View{TopicID: topicID, State: Subscribing},
		}
		r.sessions[topicID] = s
		activeTopics.Inc()
		r.wg.Add(1)
		go r.run(ctx, s)
	}
	s.observers[o] = struct{}{}
	o.s = s
	o.deliver(s.view)
	return o
}

// State reports the subscription state of a topic.
func (r *Reconciler) State(topicID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[topicID]; ok {
		return s.view.State
	}
	return Unsubscribed
}

// Snapshot observes a topic until its first Live view and returns that
// forest. A persistent fault before any forest arrived is returned as the
// error.
func (r *Reconciler) Snapshot(ctx context.Context, topicID string) (thread.Forest, error) {
	o := r.Observe(topicID)
	defer o.Close()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case v, ok := <-o.Views():
			if !ok {
				return nil, store.ErrClosed
			}
			switch {
			case v.State == Live:
				return v.Forest, nil
			case v.Fault != nil && v.Fault.Persistent && v.Forest == nil:
				return nil, v.Fault
			}
		}
	}
}

// Close ends every subscription and closes every observer channel.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for id, s := range r.sessions {
		s.cancel()
		for o := range s.observers {
			o.closeLocked()
		}
		delete(r.sessions, id)
		activeTopics.Dec()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Reconciler) detach(o *Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.closed {
		return
	}
	o.closeLocked()
	s := o.s
	delete(s.observers, o)
	if len(s.observers) > 0 {
		return
	}
	s.cancel()
	if r.sessions[s.topicID] == s {
		delete(r.sessions, s.topicID)
		activeTopics.Dec()
	}
}

// update replaces the session view and publishes it, unless it is
// indistinguishable from what observers already have.
func (r *Reconciler) update(ctx context.Context, s *session, next View) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	prev := s.view
	if prev.State == next.State && prev.Fault == next.Fault && thread.Same(prev.Forest, next.Forest) {
		return false
	}
	s.view = next
	for o := range s.observers {
		o.deliver(next)
	}
	return true
}

func (r *Reconciler) run(ctx context.Context, s *session) {
	defer r.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff

	var last thread.Forest
	failures := 0
	for {
		err := r.follow(ctx, s, &last, func() {
			failures = 0
			b.Reset()
		})
		if ctx.Err() != nil {
			return
		}

		failures++
		fault := &errs.SubscriptionFault{
			TopicID:    s.topicID,
			Attempts:   failures,
			Persistent: failures >= r.cfg.FaultThreshold,
			Err:        err,
		}
		subscriptionFaults.WithLabelValues(boolLabel(fault.Persistent)).Inc()
		log := r.logger.Warn
		if fault.Persistent {
			log = r.logger.Error
		}
		log("comment subscription failed",
			zap.String("topic_id", s.topicID),
			zap.Int("consecutive", failures),
			zap.Error(err))
		r.update(ctx, s, View{TopicID: s.topicID, State: Error, Forest: last, Fault: fault})

		wait := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			wait.Stop()
			return
		case <-wait.C:
		}
	}
}

// follow holds one subscription until it fails. healthy is called on each
// snapshot.
func (r *Reconciler) follow(ctx context.Context, s *session, last *thread.Forest, healthy func()) error {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := r.sub.SubscribeComments(attemptCtx, s.topicID)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return store.ErrStreamClosed
			}
			if ev.Err != nil {
				return ev.Err
			}
			healthy()
			forest := thread.Preserve(*last, thread.Build(ev.Comments))
			published := r.update(ctx, s, View{TopicID: s.topicID, State: Live, Forest: forest})
			rebuilds.WithLabelValues(boolLabel(published)).Inc()
			*last = forest
		}
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Observer receives the views of one topic. Delivery is latest-wins: a slow
// reader skips intermediate views but always gets the newest one.
type Observer struct {
	r       *Reconciler
	s       *session
	topicID string
	ch      chan View
	closed  bool
}

func (o *Observer) TopicID() string { return o.topicID }

// Views is closed by Close or when the reconciler shuts down.
func (o *Observer) Views() <-chan View { return o.ch }

// Close detaches the observer. The last observer of a topic tears its
// subscription down.
func (o *Observer) Close() {
	if o.s == nil {
		return
	}
	o.r.detach(o)
}

// deliver and closeLocked run under the reconciler lock, which makes the
// reconciler the only sender.
func (o *Observer) deliver(v View) {
	if o.closed {
		return
	}
	select {
	case <-o.ch:
	default:
	}
	o.ch <- v
}

func (o *Observer) closeLocked() {
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}
