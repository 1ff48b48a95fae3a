// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	DefaultMaxWorkers   = 10
	DefaultBatchSize    = 50
	DefaultRequestDelay = 100 * time.Millisecond
	DefaultBatchDelay   = 500 * time.Millisecond
)

var ErrRunInProgress = errors.New("a run is already in progress")

type ParallelismConfig struct {
	MaxWorkers        int           `yaml:"maxWorkers,omitempty" json:"maxWorkers,omitempty"`
	BatchSize         int           `yaml:"batchSize,omitempty" json:"batchSize,omitempty"`
	RequestDelay      time.Duration `yaml:"-" json:"requestDelay,omitempty"`
	BatchDelay        time.Duration `yaml:"-" json:"batchDelay,omitempty"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond,omitempty" json:"requestsPerSecond,omitempty"`
	Burst             int           `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// DefaultParallelism returns the settings used when nothing is configured.
func DefaultParallelism() ParallelismConfig {
	return ParallelismConfig{
		MaxWorkers:   DefaultMaxWorkers,
		BatchSize:    DefaultBatchSize,
		RequestDelay: DefaultRequestDelay,
		BatchDelay:   DefaultBatchDelay,
	}
}

// BatchRun is one sweep of Path across Values. It is not persisted.
type BatchRun struct {
	ID          string
	Template    *RequestTemplate
	Path        string
	Values      []string
	Parallelism ParallelismConfig
}

func NewBatchRun(t *RequestTemplate, path string, values []string, p ParallelismConfig) *BatchRun {
	return &BatchRun{
		ID:          uuid.New().String(),
		Template:    t,
		Path:        path,
		Values:      values,
		Parallelism: p,
	}
}

// TotalBatches is ceil(len(Values) / BatchSize).
func (r *BatchRun) TotalBatches() int {
	size := r.Parallelism.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	return (len(r.Values) + size - 1) / size
}

func (r *BatchRun) validate() error {
	if r == nil {
		return errors.New("run is nil")
	}
	if r.Template == nil {
		return errors.New("run has no request template")
	}
	if r.Path == "" {
		return errors.New("run has no parameter path")
	}
	p := r.Parallelism
	if p.MaxWorkers < 0 || p.BatchSize < 0 || p.RequestDelay < 0 || p.BatchDelay < 0 || p.RequestsPerSecond < 0 || p.Burst < 0 {
		return fmt.Errorf("invalid parallelism settings: %+v", p)
	}
	return nil
}

type RunResult struct {
	RunID     string
	Successes []Success
	Failures  []Failure
	Files     []DownloadedFile
	Snapshot  Snapshot
	Duration  time.Duration
}

// AverageElapsedMs averages the request time over successes.
func (r *RunResult) AverageElapsedMs() float64 {
	if len(r.Successes) == 0 {
		return 0
	}
	var sum int64
	for _, s := range r.Successes {
		sum += s.ElapsedMs
	}
	return float64(sum) / float64(len(r.Successes))
}

// Executor runs a BatchRun: values are processed batch by batch, each batch
// by a bounded pool of workers.
type Executor struct {
	logger        Logger
	httpClient    HTTPClient
	classifier    *Classifier
	mutator       *Mutator
	authenticator Authenticator
	accept        *AcceptRule

	progressCh chan ProgressEvent
	progressFn func(ProgressEvent)

	tracker atomic.Pointer[progressTracker]
	running atomic.Bool
}

func NewExecutor() *Executor {
	return &Executor{
		logger:        NewNoopLogger(),
		httpClient:    &http.Client{},
		classifier:    NewClassifier(),
		mutator:       NewMutator(),
		authenticator: NoopAuthenticator{},
	}
}

func (e *Executor) SetLogger(logger Logger) {
	e.logger = logger
	e.classifier.SetLogger(logger)
	e.mutator.SetLogger(logger)
}

func (e *Executor) SetClient(client HTTPClient) {
	e.httpClient = client
}

func (e *Executor) SetClassifier(c *Classifier) {
	if c.logger == nil {
		c.logger = e.logger
	}
	if c.now == nil {
		c.now = time.Now
	}
	e.classifier = c
}

func (e *Executor) SetAuthenticator(a Authenticator) {
	e.authenticator = a
}

// SetAcceptRule makes responses failing rule count as failures.
func (e *Executor) SetAcceptRule(rule *AcceptRule) {
	e.accept = rule
}

// EnableProgress returns a channel receiving progress events. The caller must
// drain it while Run executes and may close it after Run returns.
func (e *Executor) EnableProgress() chan ProgressEvent {
	e.progressCh = make(chan ProgressEvent, 64)
	return e.progressCh
}

// OnProgress registers a callback invoked for every progress event.
func (e *Executor) OnProgress(fn func(ProgressEvent)) {
	e.progressFn = fn
}

// Progress returns the snapshot of the current or last run. Safe to poll.
func (e *Executor) Progress() Snapshot {
	return e.tracker.Load().Snapshot()
}

func (e *Executor) State() RunState {
	return e.Progress().State
}

// Run executes all values of run and returns every outcome. Each value yields
// exactly one Success or Failure. When ctx is cancelled the remaining values
// are recorded as cancelled failures and ctx.Err() is returned with the
// partial result.
func (e *Executor) Run(ctx context.Context, run *BatchRun) (*RunResult, error) {
	if err := run.validate(); err != nil {
		return nil, err
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	p := run.Parallelism
	if p.MaxWorkers == 0 {
		p.MaxWorkers = DefaultMaxWorkers
	}
	if p.BatchSize == 0 {
		p.BatchSize = DefaultBatchSize
	}

	total := len(run.Values)
	totalBatches := run.TotalBatches()
	tracker := newProgressTracker(total, totalBatches, e.progressCh, e.progressFn)
	tracker.setState(StateRunning)
	e.tracker.Store(tracker)

	var limiter *rate.Limiter
	if p.RequestsPerSecond > 0 {
		burst := p.Burst
		if burst == 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(p.RequestsPerSecond), burst)
	}

	started := time.Now()
	runEvent := tracker.newEvent(EVENT_RUN_START, "Run Start", "")
	runEvent.Data["path"] = run.Path
	runEvent.Data["total"] = total
	runEvent.Data["maxWorkers"] = p.MaxWorkers
	runEvent.Data["batchSize"] = p.BatchSize
	runID := tracker.emit(runEvent)

	collector := NewOutcomeCollector(total, func(o Outcome) {
		tracker.record(o)
		if tracker.enabled() {
			ev := tracker.newEvent(EVENT_RESULT, "Result", runID)
			ev.Data["value"] = o.ParamValue()
			ev.Data["success"] = o.IsSuccess()
			if o.Failure != nil {
				ev.Data["error"] = o.Failure.Message
			}
			tracker.emit(ev)
		}
	})

	e.logger.Info("[Run] %s: %d values for %s in %d batches (workers %d, batch size %d)",
		run.ID, total, run.Path, totalBatches, p.MaxWorkers, p.BatchSize)

	w := &runWorker{
		executor:  e,
		run:       run,
		p:         p,
		client:    e.newRestyClient(),
		limiter:   limiter,
		collector: collector,
		attempted: make([]bool, total),
	}
	loopErr := w.runBatches(ctx, tracker, runID)

	if ctx.Err() != nil || loopErr != nil {
		for i, attempted := range w.attempted {
			if !attempted {
				collector.Collect(failureOutcome(run.Values[i], FailureCancelled, 0, "cancelled before request was sent"))
			}
		}
	}
	collector.Close()

	result := &RunResult{RunID: run.ID, Duration: time.Since(started)}
	result.Successes, result.Failures, result.Files = collector.Results()

	var err error
	switch {
	case loopErr != nil:
		err = loopErr
	case ctx.Err() != nil:
		err = ctx.Err()
	}
	if err != nil {
		tracker.setState(StateAborted)
		tracker.emitError("Run Aborted", runID, err)
		e.logger.Error("[Run] %s aborted: %v", run.ID, err)
	} else {
		tracker.setState(StateCompleted)
	}
	result.Snapshot = tracker.Snapshot()

	end := tracker.newEvent(EVENT_RUN_END, "Run End", runID)
	end.Duration = result.Duration.Milliseconds()
	tracker.emit(end)

	e.logger.Info("[Run] %s finished: %d succeeded, %d failed", run.ID, len(result.Successes), len(result.Failures))
	return result, err
}

func (e *Executor) newRestyClient() *resty.Client {
	var c *resty.Client
	if hc, ok := e.httpClient.(*http.Client); ok {
		c = resty.NewWithClient(hc)
	} else {
		c = resty.New().SetTransport(doerTransport{e.httpClient}).SetCookieJar(nil)
	}
	auth := e.authenticator
	return c.
		SetLogger(restyLogger{e.logger}).
		SetAllowGetMethodPayload(true).
		SetPreRequestHook(func(_ *resty.Client, req *http.Request) error {
			return auth.PrepareRequest(req)
		})
}

// runWorker holds the state shared by the workers of one run.
type runWorker struct {
	executor  *Executor
	run       *BatchRun
	p         ParallelismConfig
	client    *resty.Client
	limiter   *rate.Limiter
	collector *OutcomeCollector

	// attempted[i] is written by the worker that dequeued value i and read
	// only after all workers of the run have returned.
	attempted []bool
}

// runBatches processes the batches strictly one after another. A panic here
// aborts the run; panics inside a single request do not.
func (w *runWorker) runBatches(ctx context.Context, tracker *progressTracker, runID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run aborted: %v", r)
		}
	}()

	total := len(w.run.Values)
	totalBatches := tracker.totalBatches
	for b := 0; b < totalBatches; b++ {
		if ctx.Err() != nil {
			return nil
		}
		start := b * w.p.BatchSize
		end := min(start+w.p.BatchSize, total)
		tracker.batch.Store(int64(b + 1))

		w.executor.logger.Info("[Batch] %d/%d (values %d-%d)", b+1, totalBatches, start+1, end)
		batchStarted := time.Now()
		ev := tracker.newEvent(EVENT_BATCH_START, fmt.Sprintf("Batch %d", b+1), runID)
		ev.Data["from"] = start + 1
		ev.Data["to"] = end
		batchID := tracker.emit(ev)

		w.runBatch(ctx, start, end)

		done := tracker.newEvent(EVENT_BATCH_END, fmt.Sprintf("Batch %d", b+1), batchID)
		done.Duration = time.Since(batchStarted).Milliseconds()
		tracker.emit(done)

		if b < totalBatches-1 && w.p.BatchDelay > 0 {
			if !sleepContext(ctx, w.p.BatchDelay) {
				return nil
			}
		}
	}
	return nil
}

// runBatch dispatches values[start:end] to min(MaxWorkers, batch length)
// workers pulling from a shared queue.
func (w *runWorker) runBatch(ctx context.Context, start, end int) {
	queue := make(chan int, end-start)
	for i := start; i < end; i++ {
		queue <- i
	}
	close(queue)

	workers := min(w.p.MaxWorkers, end-start)
	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < workers; id++ {
		workerID := id
		g.Go(func() error {
			for idx := range queue {
				if gctx.Err() != nil {
					return nil
				}
				w.attempted[idx] = true
				w.collector.Collect(w.process(gctx, workerID, w.run.Values[idx]))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// process sends one variant and classifies the response. A panic becomes a
// Failure for this value only.
func (w *runWorker) process(ctx context.Context, workerID int, value string) (out Outcome) {
	e := w.executor
	var elapsed int64
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("[Worker %d] panic for %s: %v", workerID, value, r)
			out = failureOutcome(value, FailureOther, elapsed, "request failed: %v", r)
		}
	}()

	if w.p.RequestDelay > 0 && !sleepContext(ctx, w.p.RequestDelay) {
		return failureOutcome(value, FailureCancelled, 0, "cancelled before request was sent")
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return failureOutcome(value, FailureCancelled, 0, "rate limiter: %v", err)
		}
	}

	t := e.mutator.Modify(w.run.Template, w.run.Path, value)
	body, err := t.EncodeBody()
	if err != nil {
		return failureOutcome(value, FailureOther, 0, "%v", err)
	}

	timeout := time.Duration(t.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := w.client.R().SetContext(reqCtx).SetDoNotParseResponse(true)
	// direct assignment keeps the header casing of the captured command
	for _, h := range t.Headers {
		if strings.EqualFold(h.Name, "Content-Type") {
			req.Header.Set(h.Name, h.Value)
			continue
		}
		req.Header[h.Name] = []string{h.Value}
	}
	if body != nil {
		if _, ok := t.Headers.Get("Content-Type"); !ok {
			req.Header.Set("Content-Type", "application/json")
		}
		req.SetBody(body)
	}

	fullURL := t.FullURL()
	e.logger.Debug("[Worker %d] %s %s (%s=%s)", workerID, t.Method, fullURL, w.run.Path, value)

	started := time.Now()
	resp, err := req.Execute(string(t.Method), fullURL)
	elapsed = time.Since(started).Milliseconds()
	if err != nil {
		kind := ClassifyTransportError(err)
		if kind == FailureTimeout && ctx.Err() == nil {
			e.logger.Warning("[Worker %d] timeout for %s", workerID, value)
			return failureOutcome(value, kind, elapsed, "request timed out after %s", timeout)
		}
		e.logger.Error("[Worker %d] request for %s failed: %v", workerID, value, err)
		return failureOutcome(value, kind, elapsed, "request failed: %v", err)
	}

	raw := resp.RawResponse
	e.logger.Debug("[Worker %d] %s -> %d in %dms", workerID, value, raw.StatusCode, elapsed)
	out = e.classifier.Classify(raw, t, value, elapsed)

	if out.Success != nil && e.accept != nil {
		ok, err := e.accept.Accept(raw, out.Success)
		if err != nil || !ok {
			msg := fmt.Sprintf("response rejected by rule %q (status %d)", e.accept.Expression, raw.StatusCode)
			if err != nil {
				msg = err.Error()
			}
			return Outcome{Failure: &Failure{
				ParamValue: value,
				Kind:       FailureRejected,
				Message:    msg,
				ElapsedMs:  elapsed,
				StatusCode: raw.StatusCode,
			}}
		}
	}
	return out
}

// sleepContext waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type doerTransport struct {
	client HTTPClient
}

func (d doerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return d.client.Do(req)
}

type restyLogger struct {
	logger Logger
}

func (l restyLogger) Errorf(format string, v ...any) { l.logger.Error("[HTTP] "+format, v...) }
func (l restyLogger) Warnf(format string, v ...any)  { l.logger.Warning("[HTTP] "+format, v...) }
func (l restyLogger) Debugf(format string, v ...any) { l.logger.Debug("[HTTP] "+format, v...) }
