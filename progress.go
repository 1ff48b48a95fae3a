// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type ProgressEventType int

const (
	EVENT_RUN_START ProgressEventType = iota
	EVENT_BATCH_START
	EVENT_RESULT
	EVENT_BATCH_END
	EVENT_RUN_END
	EVENT_ERROR
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	Current      int      `json:"current"`
	Total        int      `json:"total"`
	Batch        int      `json:"batch"`
	TotalBatches int      `json:"totalBatches"`
	Successes    int      `json:"successes"`
	Failures     int      `json:"failures"`
	State        RunState `json:"state"`
}

type ProgressEvent struct {
	ID       string            `json:"id"`
	ParentID string            `json:"parentId,omitempty"`
	Type     ProgressEventType `json:"type"`
	Name     string            `json:"name"`

	Timestamp time.Time `json:"timestamp"`
	Duration  int64     `json:"durationMs,omitempty"` // only in END events

	WorkerID int `json:"workerId,omitempty"`

	Snapshot Snapshot       `json:"snapshot"`
	Data     map[string]any `json:"data,omitempty"`
}

// progressTracker counts completed values with atomics so Snapshot can be
// polled from any goroutine while workers report.
type progressTracker struct {
	total        int
	totalBatches int

	current   atomic.Int64
	batch     atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	state     atomic.Int32

	events   chan ProgressEvent
	callback func(ProgressEvent)
}

func newProgressTracker(total, totalBatches int, events chan ProgressEvent, callback func(ProgressEvent)) *progressTracker {
	return &progressTracker{
		total:        total,
		totalBatches: totalBatches,
		events:       events,
		callback:     callback,
	}
}

func (p *progressTracker) Snapshot() Snapshot {
	if p == nil {
		return Snapshot{State: StateIdle}
	}
	return Snapshot{
		Current:      int(p.current.Load()),
		Total:        p.total,
		Batch:        int(p.batch.Load()),
		TotalBatches: p.totalBatches,
		Successes:    int(p.successes.Load()),
		Failures:     int(p.failures.Load()),
		State:        RunState(p.state.Load()),
	}
}

func (p *progressTracker) setState(s RunState) {
	p.state.Store(int32(s))
}

func (p *progressTracker) record(o Outcome) {
	if o.IsSuccess() {
		p.successes.Add(1)
	} else {
		p.failures.Add(1)
	}
	p.current.Add(1)
}

func (p *progressTracker) enabled() bool {
	return p.events != nil || p.callback != nil
}

func (p *progressTracker) newEvent(eventType ProgressEventType, name, parentID string) ProgressEvent {
	return ProgressEvent{
		ID:        uuid.New().String(),
		ParentID:  parentID,
		Type:      eventType,
		Name:      name,
		Timestamp: time.Now(),
		Data:      make(map[string]any),
	}
}

// emit fills in the snapshot and delivers the event. Sends on the channel
// block until the consumer reads.
func (p *progressTracker) emit(e ProgressEvent) string {
	if !p.enabled() {
		return ""
	}
	e.Snapshot = p.Snapshot()
	if p.callback != nil {
		p.callback(e)
	}
	if p.events != nil {
		p.events <- e
	}
	return e.ID
}

func (p *progressTracker) emitError(name, parentID string, err error) {
	if !p.enabled() {
		return
	}
	e := p.newEvent(EVENT_ERROR, name, parentID)
	e.Data["error"] = err.Error()
	p.emit(e)
}
