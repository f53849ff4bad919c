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

	"github.com/jeremyhahn/go-quorumshare/pkg/backup"
	"github.com/jeremyhahn/go-quorumshare/pkg/challenge"
)

// Severity separates failures that may indicate an attack from ordinary
// races and timeouts. Both are refused identically; only logging and
// telemetry differ.
type Severity uint8

const (
	SeverityUnknown Severity = iota
	SeverityBenign
	SeverityAdversarial
)

func (s Severity) String() string {
	switch s {
	case SeverityBenign:
		return "benign"
	case SeverityAdversarial:
		return "adversarial"
	default:
		return "unknown"
	}
}

// Classify returns the severity of a protocol error.
func Classify(err error) Severity {
	switch {
	case err == nil:
		return SeverityUnknown
	case errors.Is(err, challenge.ErrInvalidSignature),
		errors.Is(err, backup.ErrAuthenticationFailure),
		errors.Is(err, challenge.ErrInvalidRotationProof),
		errors.Is(err, challenge.ErrCommandMismatch):
		return SeverityAdversarial
	case errors.Is(err, challenge.ErrReplayOrExpired),
		errors.Is(err, challenge.ErrInsufficientQuorum),
		errors.Is(err, challenge.ErrDuplicateApproval),
		errors.Is(err, challenge.ErrRequestExpired),
		errors.Is(err, challenge.ErrInvalidTimestamp):
		return SeverityBenign
	}
	return SeverityUnknown
}
