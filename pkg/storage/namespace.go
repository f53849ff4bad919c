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

package storage

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	quorumPrefix   = "quorums/"
	noncePrefix    = "nonces/"
	identityPrefix = "identities/"
	auditPrefix    = "audit/"
)

// QuorumPath returns the key of one quorum snapshot. Epochs are zero padded
// so lexical order matches numeric order.
func QuorumPath(quorumID string, epoch uint64) string {
	return fmt.Sprintf("%s%s/%020d.cbor", quorumPrefix, quorumID, epoch)
}

// QuorumPrefix returns the prefix under which a quorum's snapshots live.
func QuorumPrefix(quorumID string) string {
	return quorumPrefix + quorumID + "/"
}

// NoncePath returns the key recording a consumed challenge nonce.
func NoncePath(scope, nonceHex string) string {
	return noncePrefix + scope + "/" + nonceHex
}

// NoncePrefix returns the prefix of all consumed nonces for scope.
func NoncePrefix(scope string) string {
	return noncePrefix + scope + "/"
}

// IdentityPath returns the key of a locally held identity.
func IdentityPath(name string) string {
	return identityPrefix + name + ".key"
}

// AuditPath returns the key of one audit event. Timestamps are zero
// padded so lexical order is chronological within a scope.
func AuditPath(scope string, unixNano int64, id string) string {
	return fmt.Sprintf("%s%s/%020d-%s.cbor", auditPrefix, scope, unixNano, id)
}

// AuditPrefix returns the prefix of all audit events for scope, or of every
// audit event when scope is empty.
func AuditPrefix(scope string) string {
	if scope == "" {
		return auditPrefix
	}
	return auditPrefix + scope + "/"
}

// ListIdentities returns the names of all stored identities.
func ListIdentities(backend Backend) ([]string, error) {
	keys, err := backend.List(identityPrefix)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(k, identityPrefix), ".key")
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// ListQuorums returns the IDs of all quorums with at least one snapshot.
func ListQuorums(backend Backend) ([]string, error) {
	keys, err := backend.List(quorumPrefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, quorumPrefix)
		id, _, ok := strings.Cut(rest, "/")
		if !ok || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// MaxNameLength bounds identifiers used as key segments.
const MaxNameLength = 255

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

// ValidateName checks that an identifier is usable as a key segment: only
// letters, digits, '-', '_' and '.', at most MaxNameLength bytes, and never
// "." or "..".
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidKey)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidKey, MaxNameLength)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, name)
	case !namePattern.MatchString(name):
		return fmt.Errorf("%w: %q contains invalid characters (allowed: a-z, A-Z, 0-9, -, _, .)", ErrInvalidKey, name)
	}
	return nil
}
