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

package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")

	// ErrTerminal is returned for any operation on an authorized, rejected
	// or expired lifecycle.
	ErrTerminal = errors.New("lifecycle: terminal state")

	// ErrRejected is the default reason recorded by Reject.
	ErrRejected = errors.New("lifecycle: rejected")

	// ErrExpired is the reason recorded by Expire.
	ErrExpired = errors.New("lifecycle: expired")

	// ErrNotRotation is returned when a rotation proof is submitted for a
	// command that is not an identity rotation.
	ErrNotRotation = errors.New("lifecycle: not an identity rotation")
)

// TransitionError reports a refused state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
