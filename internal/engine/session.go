// Package engine runs the event ingestion session: it subscribes to the push
// channel, routes every event to the component that owns it and publishes
// immutable snapshots of the derived state.
//
// All component state is owned by a single loop goroutine. Transports,
// timers, user intents and outbound call results only post events to the
// loop; each event runs to completion before the next one starts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"riskdash/internal/applog"
	"riskdash/internal/classifier"
	"riskdash/internal/logger"
	"riskdash/internal/metrics"
	"riskdash/internal/riskseries"
	"riskdash/internal/rules"
	"riskdash/internal/viewport"
	"riskdash/internal/workflow"
	"riskdash/pkg/models"
)

// ErrNotMounted is returned when posting to a session that is not mounted.
var ErrNotMounted = errors.New("session not mounted")

var errOutboxFull = errors.New("outbox full")

const (
	DefaultRecencyTTL = 2 * time.Second
	DefaultInboxSize  = 256
	outboxSize        = 16
)

// Config tunes a session.
type Config struct {
	RecencyTTL        time.Duration
	HighRiskThreshold float64
	InboxSize         int
}

func (c Config) withDefaults() Config {
	if c.RecencyTTL <= 0 {
		c.RecencyTTL = DefaultRecencyTTL
	}
	if c.HighRiskThreshold <= 0 {
		c.HighRiskThreshold = classifier.DefaultThreshold
	}
	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}
	return c
}

// Option customizes a session.
type Option func(*Session)

// WithClock replaces the wall clock used for arrival times and recency timers.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithTagger annotates activity messages with rule hits.
func WithTagger(t rules.Tagger) Option {
	return func(s *Session) { s.tagger = t }
}

// WithMetrics records session counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithReadFile replaces the function used to read upload files.
func WithReadFile(fn func(path string) ([]byte, error)) Option {
	return func(s *Session) { s.readFile = fn }
}

// run holds the resources of one mount.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan Event
	outbox chan outboundCall
	done   chan struct{}
}

// Session is one dashboard session bound to a push channel.
type Session struct {
	cfg      Config
	channel  Channel
	clock    Clock
	tagger   rules.Tagger
	metrics  *metrics.Metrics
	readFile func(string) ([]byte, error)
	hub      *Hub

	life sync.Mutex
	mu   sync.Mutex
	run  *run

	snapshot atomic.Pointer[Snapshot]
	version  uint64

	// Loop-owned state.
	producer         *applog.Store
	messages         *applog.Store
	risk             *riskseries.Store
	classifier       *classifier.Classifier
	viewport         *viewport.Controller
	workflow         *workflow.Controller
	selectedCategory models.Category
	ruleHits         []RuleHit
	timers           map[uint64]Timer
	nextTimer        uint64
	lastPhase        models.Phase
}

// New creates an unmounted session bound to channel.
func New(cfg Config, channel Channel, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg.withDefaults(),
		channel:  channel,
		clock:    realClock{},
		tagger:   rules.NoopTagger{},
		readFile: os.ReadFile,
		hub:      newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initState()
	s.publish(false)
	return s
}

func (s *Session) initState() {
	s.producer = applog.New("producer")
	s.messages = applog.New("messages")
	s.risk = riskseries.New()
	s.classifier = classifier.New(classifier.Config{Threshold: s.cfg.HighRiskThreshold})
	s.viewport = viewport.New()
	s.workflow = workflow.New()
	s.selectedCategory = models.CategoryNone
	s.ruleHits = nil
	s.timers = make(map[uint64]Timer)
	s.lastPhase = models.PhaseIdle
}

// Mount creates fresh state, starts the loop and subscribes to every inbound
// kind. Mounting a mounted session is a no-op.
func (s *Session) Mount(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	if s.Mounted() {
		return nil
	}

	s.initState()
	s.publish(true)
	rctx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:    rctx,
		cancel: cancel,
		inbox:  make(chan Event, s.cfg.InboxSize),
		outbox: make(chan outboundCall, outboxSize),
		done:   make(chan struct{}),
	}

	subscribed := make([]models.Kind, 0, len(models.InboundKinds))
	for _, kind := range models.InboundKinds {
		err := s.channel.Subscribe(kind, func(data []byte) {
			if err := s.postTo(r, inboundEvent{kind: kind, data: data}); err != nil {
				logger.Debugf("engine: dropped %s after unmount", kind)
			}
		})
		if err != nil {
			for _, k := range subscribed {
				_ = s.channel.Unsubscribe(k)
			}
			cancel()
			s.publish(false)
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}
		subscribed = append(subscribed, kind)
	}

	s.mu.Lock()
	s.run = r
	s.mu.Unlock()
	go s.loop(r)
	go s.drainOutbox(r)
	logger.Infof("engine: session mounted, %d kinds subscribed", len(subscribed))
	return nil
}

// Unmount unsubscribes every kind, cancels pending timers and stops the
// loop. Unmounting an unmounted session is a no-op.
func (s *Session) Unmount() error {
	s.life.Lock()
	defer s.life.Unlock()
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	var errs []error
	for _, kind := range models.InboundKinds {
		if err := s.channel.Unsubscribe(kind); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", kind, err))
		}
	}
	r.cancel()
	<-r.done
	logger.Infof("engine: session unmounted")
	return errors.Join(errs...)
}

// Mounted reports whether the session is running.
func (s *Session) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Post hands an event to the loop.
func (s *Session) Post(ev Event) error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return ErrNotMounted
	}
	return s.postTo(r, ev)
}

func (s *Session) postTo(r *run, ev Event) error {
	select {
	case <-r.ctx.Done():
		return ErrNotMounted
	default:
	}
	select {
	case r.inbox <- ev:
		return nil
	case <-r.ctx.Done():
		return ErrNotMounted
	}
}

// Snapshot returns the latest published state.
func (s *Session) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Updates returns the hub announcing new snapshot versions.
func (s *Session) Updates() *Hub {
	return s.hub
}

// Sync waits until every event posted before the call has been processed
// and its state published.
func (s *Session) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.Post(syncEvent{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every event posted before the call has been processed
// and every outbound call it caused has completed and had its outcome
// applied.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return ErrNotMounted
	}

	done := make(chan struct{})
	select {
	case r.outbox <- outboundCall{flushed: done}:
	case <-r.ctx.Done():
		return ErrNotMounted
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-r.ctx.Done():
		return ErrNotMounted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SelectFile chooses the file the next upload sends.
func (s *Session) SelectFile(path string) error {
	return s.Post(selectFileEvent{path: path})
}

// TriggerUpload resets the session and uploads the selected file.
func (s *Session) TriggerUpload() error {
	return s.Post(triggerUploadEvent{})
}

// SetZoomLevel applies a discrete zoom selection.
func (s *Session) SetZoomLevel(level models.ZoomLevel) error {
	return s.Post(zoomEvent{level: level})
}

// OnBrushChange applies a chart brush selection.
func (s *Session) OnBrushChange(r models.BrushRange) error {
	return s.Post(brushEvent{r: r})
}

// SelectCategory shows the flagged activities of a category. An empty
// category clears the selection.
func (s *Session) SelectCategory(category models.Category) error {
	return s.Post(categoryEvent{category: category})
}

func (s *Session) loop(r *run) {
	defer close(r.done)
	defer s.stopTimers()
	for {
		select {
		case <-r.ctx.Done():
			s.publish(false)
			return
		case ev := <-r.inbox:
			s.handle(r, ev)
			if se, ok := ev.(syncEvent); ok {
				s.publish(true)
				close(se.done)
				continue
			}
			if len(r.inbox) == 0 {
				s.publish(true)
			}
		}
	}
}

func (s *Session) handle(r *run, ev Event) {
	switch e := ev.(type) {
	case inboundEvent:
		s.metrics.Event(e.kind)
		fn, ok := routes[e.kind]
		if !ok {
			logger.Debugf("engine: no route for %s", e.kind)
			return
		}
		fn(s, r, e.data)
	case clearMarkEvent:
		delete(s.timers, e.timer)
		e.store.ClearMark(e.mark)
	case selectFileEvent:
		s.workflow.SelectFile(e.path)
	case triggerUploadEvent:
		s.startUpload(r)
	case zoomEvent:
		s.viewport.SetZoomLevel(e.level)
	case brushEvent:
		s.viewport.OnBrushChange(e.r)
	case categoryEvent:
		s.selectedCategory = e.category
	case uploadOutcome:
		s.applyUploadOutcome(e)
	case analysisOutcome:
		if e.err != nil && s.workflow.AnalysisRequestFailed(e.generation, e.err) {
			logger.Warnf("engine: email analysis request failed: %v", e.err)
		}
	case syncEvent:
	}
	if p := s.workflow.Phase(); p != s.lastPhase {
		logger.Infof("engine: phase %s -> %s", s.lastPhase, p)
		s.lastPhase = p
		s.metrics.SetPhase(p)
	}
}

// resetAll clears every derived store and cancels pending recency timers.
// The viewport returns to the full view; the selected file is kept.
func (s *Session) resetAll() {
	s.stopTimers()
	s.producer.Reset()
	s.messages.Reset()
	s.risk.Reset()
	s.classifier.Reset()
	s.viewport.Reset()
	s.workflow.Reset()
	s.selectedCategory = models.CategoryNone
	s.ruleHits = nil
	s.metrics.SessionReset()
}

func (s *Session) stopTimers() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// appendLine adds a line to store and schedules the clear of its recency mark.
func (s *Session) appendLine(r *run, store *applog.Store, text string) int {
	idx, mark := store.Append(text, s.clock.Now())
	s.nextTimer++
	id := s.nextTimer
	s.timers[id] = s.clock.AfterFunc(s.cfg.RecencyTTL, func() {
		_ = s.postTo(r, clearMarkEvent{store: store, mark: mark, timer: id})
	})
	return idx
}

func (s *Session) publish(mounted bool) {
	s.version++
	s.snapshot.Store(s.buildSnapshot(s.version, mounted))
	s.hub.broadcast(s.version)
}
