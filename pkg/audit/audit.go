// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quorumshare.
//
// go-quorumshare is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package audit keeps a persistent trail of authorization decisions:
// quorum changes, issued challenges, authorized and rejected commands,
// refused approvals and share transfers.
//
// Events are stored one record per key under the audit namespace of a
// storage.Backend, scoped by quorum, so the trail survives process exits
// and can be queried later.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-quorumshare/pkg/correlation"
	"github.com/jeremyhahn/go-quorumshare/pkg/encoding"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
)

// EventType represents the type of audit event
type EventType string

const (
	EventIdentityGenerate EventType = "identity.generate"

	EventQuorumCreate EventType = "quorum.create"
	EventQuorumApply  EventType = "quorum.apply"

	EventRequestVerify    EventType = "request.verify"
	EventChallengeIssue   EventType = "challenge.issue"
	EventApprovalRefuse   EventType = "approval.refuse"
	EventCommandAuthorize EventType = "command.authorize"
	EventCommandReject    EventType = "command.reject"

	EventShareBackup  EventType = "share.backup"
	EventShareRecover EventType = "share.recover"
)

// EventOutcome indicates the result of an operation
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
	OutcomeDenied  EventOutcome = "denied"
)

// LocalScope holds events that belong to no quorum.
const LocalScope = "local"

// ErrInvalidEvent is returned for an event without a type or outcome.
var ErrInvalidEvent = errors.New("audit: invalid event")

// Event represents a single audit log entry
type Event struct {
	// ID is a unique identifier for this audit event
	ID string `cbor:"1,keyasint" json:"id"`

	// Timestamp when the event occurred. Stored as unix nanoseconds.
	Timestamp time.Time `cbor:"-" json:"timestamp"`

	// Type categorizes the event
	Type EventType `cbor:"3,keyasint" json:"type"`

	// Outcome indicates whether the operation succeeded
	Outcome EventOutcome `cbor:"4,keyasint" json:"outcome"`

	// Severity is the failure classification, empty on success.
	Severity string `cbor:"5,keyasint,omitempty" json:"severity,omitempty"`

	QuorumID string `cbor:"6,keyasint,omitempty" json:"quorum_id,omitempty"`
	Epoch    uint64 `cbor:"7,keyasint,omitempty" json:"epoch,omitempty"`

	// Actor is the public key that initiated or signed, when known.
	Actor string `cbor:"8,keyasint,omitempty" json:"actor,omitempty"`

	// Subject names what was acted on: a command, share or identity.
	Subject string `cbor:"9,keyasint,omitempty" json:"subject,omitempty"`

	// Challenge is the hex nonce of the challenge involved.
	Challenge string `cbor:"10,keyasint,omitempty" json:"challenge,omitempty"`

	// Result contains the outcome or error message
	Result string `cbor:"11,keyasint,omitempty" json:"result,omitempty"`

	// CorrelationID joins the event with log lines of the same operation.
	CorrelationID string `cbor:"12,keyasint,omitempty" json:"correlation_id,omitempty"`
}

type plainEvent Event

type wireEvent struct {
	plainEvent
	At int64 `cbor:"2,keyasint"`
}

// MarshalBinary encodes the event as canonical CBOR.
func (e *Event) MarshalBinary() ([]byte, error) {
	return encoding.Marshal(wireEvent{plainEvent: plainEvent(*e), At: e.Timestamp.UnixNano()})
}

// UnmarshalBinary decodes an event.
func (e *Event) UnmarshalBinary(data []byte) error {
	var w wireEvent
	if err := encoding.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("audit: decode event: %w", err)
	}
	*e = Event(w.plainEvent)
	e.Timestamp = time.Unix(0, w.At).UTC()
	return nil
}

func (e *Event) scope() string {
	if e.QuorumID == "" {
		return LocalScope
	}
	return e.QuorumID
}

// Recorder stores audit events.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// Query selects events. Zero fields match everything.
type Query struct {
	QuorumID string
	Types    []EventType
	Outcome  EventOutcome
	Since    time.Time
	Until    time.Time

	// Limit keeps only the most recent events.
	Limit int
}

func (q *Query) matches(e *Event) bool {
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Outcome != "" && q.Outcome != e.Outcome {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// Log is a Recorder persisting events to a storage.Backend.
type Log struct {
	backend storage.Backend
	clock   func() time.Time

	mu sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the time source for event timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Log) {
		l.clock = clock
	}
}

// NewLog returns a Log over backend.
func NewLog(backend storage.Backend, opts ...Option) *Log {
	l := &Log{backend: backend, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record fills in the ID, timestamp and correlation ID when missing and
// stores the event. Stored events are never overwritten.
func (l *Log) Record(ctx context.Context, event *Event) error {
	if event == nil || event.Type == "" || event.Outcome == "" {
		return ErrInvalidEvent
	}
	if err := storage.ValidateName(event.scope()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.ID == "" {
		event.ID = correlation.NewID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock().UTC()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = correlation.GetCorrelationID(ctx)
	}

	data, err := event.MarshalBinary()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	key := storage.AuditPath(event.scope(), event.Timestamp.UnixNano(), event.ID)
	if err := l.backend.Create(key, data, nil); err != nil {
		return fmt.Errorf("audit: store event: %w", err)
	}
	return nil
}

// Events returns the events matching q, oldest first.
func (l *Log) Events(q Query) ([]*Event, error) {
	prefix := storage.AuditPrefix("")
	if q.QuorumID != "" {
		if err := storage.ValidateName(q.QuorumID); err != nil {
			return nil, err
		}
		prefix = storage.AuditPrefix(q.QuorumID)
	}

	keys, err := l.backend.List(prefix)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}

	events := make([]*Event, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".cbor") {
			continue
		}
		data, err := l.backend.Get(key)
		if err != nil {
			return nil, fmt.Errorf("audit: read %s: %w", key, err)
		}
		e := new(Event)
		if err := e.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if q.matches(e) {
			events = append(events, e)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[len(events)-q.Limit:]
	}
	return events, nil
}

type nopRecorder struct{}

// NewNop returns a Recorder that discards events.
func NewNop() Recorder {
	return nopRecorder{}
}

func (nopRecorder) Record(context.Context, *Event) error { return nil }
