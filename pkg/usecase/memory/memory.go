// Package memory runs the fact memory pipeline for a host conversation system:
// recall before a turn, and extract, filter, merge and store after it.
package memory

import (
	"context"
	"time"

	"github.com/m-mizutani/memento/pkg/event"
	"github.com/m-mizutani/memento/pkg/format"
	"github.com/m-mizutani/memento/pkg/interfaces"
	"github.com/m-mizutani/memento/pkg/lock"
	"github.com/m-mizutani/memento/pkg/oracle"
	"github.com/m-mizutani/memento/pkg/pii"
	"github.com/m-mizutani/memento/pkg/policy"
	"github.com/m-mizutani/memento/pkg/reconcile"
)

const (
	DefaultExtractionThreshold = 1
	DefaultMaxRetries          = 3
	DefaultWorkers             = 4
	DefaultUpdateTimeout       = 60 * time.Second
	DefaultWindowSize          = oracle.DefaultWindowSize
)

// Oracle turns an extraction request into raw response text.
// *oracle.Extractor implements it.
type Oracle interface {
	Extract(ctx context.Context, req *oracle.Request) (string, error)
}

// UseCase provides memory operations
type UseCase struct {
	repo   interfaces.Repository
	oracle Oracle

	filter    *pii.Filter
	engine    *reconcile.Engine
	formatter *format.Formatter
	admission *policy.Admission
	locker    lock.Locker
	emitter   event.Emitter

	style         format.Style
	maxCount      int
	threshold     int
	windowSize    int
	maxRetries    int
	updateTimeout time.Duration
	now           func() time.Time

	sem  chan struct{}
	jobs *jobs
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithFilter sets the PII filter. Defaults to pii.Default().
func WithFilter(f *pii.Filter) Option {
	return func(uc *UseCase) {
		uc.filter = f
	}
}

func WithEngine(e *reconcile.Engine) Option {
	return func(uc *UseCase) {
		uc.engine = e
	}
}

func WithFormatter(f *format.Formatter) Option {
	return func(uc *UseCase) {
		uc.formatter = f
	}
}

// WithAdmission sets the operator policy evaluated after PII validation
func WithAdmission(a *policy.Admission) Option {
	return func(uc *UseCase) {
		uc.admission = a
	}
}

// WithLocker sets the per-user lock. Defaults to an in-process lock.
func WithLocker(l lock.Locker) Option {
	return func(uc *UseCase) {
		uc.locker = l
	}
}

func WithEmitter(e event.Emitter) Option {
	return func(uc *UseCase) {
		uc.emitter = e
	}
}

// WithStyle sets the context rendering style
func WithStyle(s format.Style) Option {
	return func(uc *UseCase) {
		uc.style = s
	}
}

// WithMaxCount limits how many entries are injected as context
func WithMaxCount(n int) Option {
	return func(uc *UseCase) {
		uc.maxCount = n
	}
}

// WithExtractionThreshold sets the number of user messages a conversation
// needs before HandleTurn schedules an update
func WithExtractionThreshold(n int) Option {
	return func(uc *UseCase) {
		uc.threshold = n
	}
}

// WithWindowSize sets how many recent messages are sent to the oracle
func WithWindowSize(n int) Option {
	return func(uc *UseCase) {
		uc.windowSize = n
	}
}

// WithMaxRetries sets how often a write is retried after a version conflict
func WithMaxRetries(n int) Option {
	return func(uc *UseCase) {
		uc.maxRetries = n
	}
}

// WithWorkers bounds the number of background updates running at once
func WithWorkers(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.sem = make(chan struct{}, n)
		}
	}
}

// WithUpdateTimeout bounds a background update including lock wait
func WithUpdateTimeout(d time.Duration) Option {
	return func(uc *UseCase) {
		uc.updateTimeout = d
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a new memory UseCase instance
func New(
	repo interfaces.Repository,
	extractor Oracle,
	opts ...Option,
) *UseCase {
	uc := &UseCase{
		repo:          repo,
		oracle:        extractor,
		engine:        reconcile.New(),
		formatter:     format.New(),
		locker:        lock.NewLocal(),
		emitter:       event.NewLogger(),
		style:         format.StyleStructured,
		maxCount:      format.DefaultMaxCount,
		threshold:     DefaultExtractionThreshold,
		windowSize:    DefaultWindowSize,
		maxRetries:    DefaultMaxRetries,
		updateTimeout: DefaultUpdateTimeout,
		now:           time.Now,
		sem:           make(chan struct{}, DefaultWorkers),
		jobs:          newJobs(),
	}

	for _, opt := range opts {
		opt(uc)
	}

	if uc.filter == nil {
		uc.filter = pii.Default()
	}

	return uc
}
