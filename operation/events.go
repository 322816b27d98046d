// Copyright 2026 The Kapsule Authors
// SPDX-License-Identifier: Apache-2.0

package operation

// Severity classifies a Message event.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return "unknown"
}

// Event is one entry in an operation's ordered event stream. Events of
// a single operation are totally ordered; there is no ordering between
// operations.
type Event interface {
	isEvent()
}

// Message is a human-readable status line.
type Message struct {
	Severity Severity
	Text     string
	// Indent is the nesting depth, for clients that render sub-steps
	// indented under their parent.
	Indent int
}

// ProgressStarted opens a progress sub-operation, such as an image
// download. SubID is unique within the operation.
type ProgressStarted struct {
	SubID       int
	Description string
	// Total is the expected final Current value; 0 when unknown.
	Total  int64
	Indent int
}

// ProgressUpdate advances a progress sub-operation.
type ProgressUpdate struct {
	SubID   int
	Current int64
	// Rate is a humanized transfer rate such as "42.5MB/s"; empty when
	// no rate is known.
	Rate string
}

// ProgressCompleted closes a progress sub-operation.
type ProgressCompleted struct {
	SubID int
	OK    bool
	Text  string
}

// Completed is the final event of every operation, emitted exactly
// once.
type Completed struct {
	OK bool
	// Error is the failure text; empty when OK.
	Error string
}

func (Message) isEvent()           {}
func (ProgressStarted) isEvent()   {}
func (ProgressUpdate) isEvent()    {}
func (ProgressCompleted) isEvent() {}
func (Completed) isEvent()         {}
