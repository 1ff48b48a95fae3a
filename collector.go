// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"sync/atomic"
	"time"
)

// OutcomeCollector owns the success, failure and downloaded file lists.
// Workers hand outcomes over a channel to a single goroutine, so the lists
// need no locking. Order is the order of receipt, not submission.
type OutcomeCollector struct {
	in    chan Outcome
	done  chan struct{}
	count atomic.Int64

	successes []Success
	failures  []Failure
	files     []DownloadedFile

	onOutcome func(Outcome)
	now       func() time.Time
}

// NewOutcomeCollector starts the collecting goroutine. sizeHint pre-allocates
// the result lists. onOutcome, if set, runs on the collector goroutine.
func NewOutcomeCollector(sizeHint int, onOutcome func(Outcome)) *OutcomeCollector {
	c := &OutcomeCollector{
		in:        make(chan Outcome, 64),
		done:      make(chan struct{}),
		successes: make([]Success, 0, sizeHint),
		failures:  make([]Failure, 0),
		files:     make([]DownloadedFile, 0),
		onOutcome: onOutcome,
		now:       time.Now,
	}
	go c.loop()
	return c
}

func (c *OutcomeCollector) loop() {
	defer close(c.done)
	for o := range c.in {
		switch {
		case o.Success != nil:
			c.successes = append(c.successes, *o.Success)
			if o.Success.Filename != "" {
				c.files = append(c.files, DownloadedFile{
					ParamValue: o.Success.ParamValue,
					Filename:   o.Success.Filename,
					Size:       o.Success.Size,
					Timestamp:  c.now(),
				})
			}
		case o.Failure != nil:
			c.failures = append(c.failures, *o.Failure)
		default:
			continue
		}
		c.count.Add(1)
		if c.onOutcome != nil {
			c.onOutcome(o)
		}
	}
}

// Collect hands an outcome to the collector. Safe for concurrent use; must
// not be called after Close.
func (c *OutcomeCollector) Collect(o Outcome) {
	c.in <- o
}

// Count returns the number of outcomes processed so far.
func (c *OutcomeCollector) Count() int {
	return int(c.count.Load())
}

// Close stops accepting outcomes and waits for the collector to drain.
func (c *OutcomeCollector) Close() {
	close(c.in)
	<-c.done
}

// Results returns the three lists. Only valid after Close.
func (c *OutcomeCollector) Results() ([]Success, []Failure, []DownloadedFile) {
	return c.successes, c.failures, c.files
}
