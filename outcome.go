// SPDX-FileCopyrightText: 2024 NOI Techpark <digital@noi.bz.it>
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package sweep

import (
	"fmt"
	"time"
)

type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection"
	FailureRejected   FailureKind = "rejected"
	FailureCancelled  FailureKind = "cancelled"
	FailureOther      FailureKind = "other"
)

// Success is a response that was received and classified.
type Success struct {
	ParamValue string `json:"paramValue"`
	StatusCode int    `json:"statusCode"`
	ElapsedMs  int64  `json:"elapsedMs"`
	Message    string `json:"message,omitempty"`

	// Content is the decoded JSON document, or the body text when the
	// response was not JSON. Nil for file downloads.
	Content any `json:"content,omitempty"`
	// Preview is set only when the raw body exceeded the preview threshold.
	Preview       string `json:"preview,omitempty"`
	ContentLength int64  `json:"contentLength,omitempty"`

	// Filename and Size are set for downloads and large JSON backups.
	Filename    string `json:"filename,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Large       bool   `json:"large,omitempty"`
}

func (s *Success) HasPreview() bool {
	return s.Preview != ""
}

// Failure is a value whose request could not be completed or was rejected.
type Failure struct {
	ParamValue string      `json:"paramValue"`
	Kind       FailureKind `json:"kind"`
	Message    string      `json:"message"`
	ElapsedMs  int64       `json:"elapsedMs"`
	StatusCode int         `json:"statusCode,omitempty"`
}

// Outcome holds exactly one of Success or Failure.
type Outcome struct {
	Success *Success
	Failure *Failure
}

func (o Outcome) ParamValue() string {
	if o.Success != nil {
		return o.Success.ParamValue
	}
	if o.Failure != nil {
		return o.Failure.ParamValue
	}
	return ""
}

func (o Outcome) IsSuccess() bool {
	return o.Success != nil
}

func successOutcome(s *Success) Outcome {
	return Outcome{Success: s}
}

func failureOutcome(paramValue string, kind FailureKind, elapsedMs int64, format string, args ...any) Outcome {
	return Outcome{Failure: &Failure{
		ParamValue: paramValue,
		Kind:       kind,
		Message:    fmt.Sprintf(format, args...),
		ElapsedMs:  elapsedMs,
	}}
}

// DownloadedFile indexes a file written during a run.
type DownloadedFile struct {
	ParamValue string    `json:"paramValue"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Timestamp  time.Time `json:"timestamp"`
}
