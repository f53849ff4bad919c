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

// State is a lifecycle position.
type State uint8

const (
	StateProposed State = iota
	StateChallengeIssued
	StateCollectingApprovals
	StateAuthorized
	StateRejected
	StateExpired
)

var stateNames = map[State]string{
	StateProposed:            "proposed",
	StateChallengeIssued:     "challenge_issued",
	StateCollectingApprovals: "collecting_approvals",
	StateAuthorized:          "authorized",
	StateRejected:            "rejected",
	StateExpired:             "expired",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateAuthorized || s == StateRejected || s == StateExpired
}

// canTransition lists the allowed edges.
func canTransition(from, to State) bool {
	switch from {
	case StateProposed:
		return to == StateChallengeIssued || to == StateRejected || to == StateExpired
	case StateChallengeIssued:
		return to == StateCollectingApprovals || to == StateRejected || to == StateExpired
	case StateCollectingApprovals:
		return to == StateAuthorized || to == StateRejected || to == StateExpired
	}
	return false
}
