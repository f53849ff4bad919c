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

package command

import (
	"fmt"
	"strings"
)

// Kind tags the operation a Command authorizes.
type Kind uint8

const (
	KindKeyGeneration Kind = iota + 1
	KindSigning
	KindKeyRefresh
	KindMemberAddition
	KindMemberRemoval
	KindShareBackup
	KindShareRecovery
	KindIdentityRotation
)

var kindNames = map[Kind]string{
	KindKeyGeneration:    "key_generation",
	KindSigning:          "signing",
	KindKeyRefresh:       "key_refresh",
	KindMemberAddition:   "member_addition",
	KindMemberRemoval:    "member_removal",
	KindShareBackup:      "share_backup",
	KindShareRecovery:    "share_recovery",
	KindIdentityRotation: "identity_rotation",
}

// Kinds returns every defined kind in wire order.
func Kinds() []Kind {
	return []Kind{
		KindKeyGeneration, KindSigning, KindKeyRefresh, KindMemberAddition,
		KindMemberRemoval, KindShareBackup, KindShareRecovery, KindIdentityRotation,
	}
}

// String returns the snake_case kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsValid reports whether k is a defined kind.
func (k Kind) IsValid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsMembershipChange reports whether commands of this kind replace the
// quorum member set once authorized.
func (k Kind) IsMembershipChange() bool {
	switch k {
	case KindMemberAddition, KindMemberRemoval, KindIdentityRotation:
		return true
	default:
		return false
	}
}

// ParseKind parses a kind name. Dashes are accepted in place of underscores.
func ParseKind(s string) (Kind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for k, name := range kindNames {
		if name == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
