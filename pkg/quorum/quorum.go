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

// Package quorum models the set of sub-identities authorized to act for one
// real identity, together with the approval threshold.
//
// A Quorum is an immutable value. Members are kept deduplicated and sorted
// by compressed verification key so that every party computes the same
// aggregate digest. Membership changes never edit a Quorum in place; they
// produce a new value with the next epoch.
package quorum

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
)

// DigestLabel domain-separates aggregate digests.
const DigestLabel = "quorumshare/v1/quorum"

// Quorum is the authorized member set and threshold for one identity.
type Quorum struct {
	id        string
	epoch     uint64
	threshold int
	members   []identity.SubIdentity
	digest    hash.Digest
}

// New validates and canonicalizes a quorum at epoch 1.
func New(id string, members []identity.SubIdentity, threshold int) (*Quorum, error) {
	return build(id, 1, members, threshold)
}

func build(id string, epoch uint64, members []identity.SubIdentity, threshold int) (*Quorum, error) {
	if err := storage.ValidateName(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if threshold < 1 || threshold > len(members) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, len(members))
	}

	sorted := slices.Clone(members)
	slices.SortFunc(sorted, func(a, b identity.SubIdentity) int {
		return a.Key.Compare(b.Key)
	})

	for i, m := range sorted {
		if err := m.Key.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMember, m, err)
		}
		if i > 0 && sorted[i-1].Key == m.Key {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, m.Key.Short())
		}
	}

	q := &Quorum{
		id:        id,
		epoch:     epoch,
		threshold: threshold,
		members:   sorted,
	}
	q.digest = q.computeDigest()
	return q, nil
}

// computeDigest hashes id, epoch, threshold and each member in canonical
// order.
func (q *Quorum) computeDigest() hash.Digest {
	parts := make([][]byte, 0, 3+2*len(q.members))

	var epoch, threshold [8]byte
	binary.BigEndian.PutUint64(epoch[:], q.epoch)
	binary.BigEndian.PutUint64(threshold[:], uint64(q.threshold))
	parts = append(parts, []byte(q.id), epoch[:], threshold[:])

	for _, m := range q.members {
		parts = append(parts, m.Key[:], []byte(m.Label))
	}
	return hash.Tagged(DigestLabel, parts...)
}

// ID returns the stable quorum identifier shared by all epochs.
func (q *Quorum) ID() string {
	return q.id
}

// Epoch returns the membership version, starting at 1.
func (q *Quorum) Epoch() uint64 {
	return q.epoch
}

// Threshold returns the number of approvals required.
func (q *Quorum) Threshold() int {
	return q.threshold
}

// Size returns the number of members.
func (q *Quorum) Size() int {
	return len(q.members)
}

// Members returns a copy of the members in canonical order.
func (q *Quorum) Members() []identity.SubIdentity {
	return slices.Clone(q.members)
}

// Contains reports whether key belongs to a current member.
func (q *Quorum) Contains(key identity.PublicKey) bool {
	_, ok := q.Member(key)
	return ok
}

// Member looks up a member by key.
func (q *Quorum) Member(key identity.PublicKey) (identity.SubIdentity, bool) {
	i, found := slices.BinarySearchFunc(q.members, key, func(m identity.SubIdentity, k identity.PublicKey) int {
		return m.Key.Compare(k)
	})
	if !found {
		return identity.SubIdentity{}, false
	}
	return q.members[i], true
}

// AggregateDigest binds challenges to this exact quorum version.
func (q *Quorum) AggregateDigest() hash.Digest {
	return q.digest
}

// String implements fmt.Stringer.
func (q *Quorum) String() string {
	return fmt.Sprintf("%s@%d(%d-of-%d)", q.id, q.epoch, q.threshold, len(q.members))
}

// ApplyMembershipChange returns the quorum that results from an authorized
// membership-change command. The receiver is not modified.
func (q *Quorum) ApplyMembershipChange(cmd command.Command) (*Quorum, error) {
	if !cmd.Kind().IsMembershipChange() {
		return nil, fmt.Errorf("%w: %s", ErrNotMembershipChange, cmd.Kind())
	}
	if cmd.Context().QuorumID != q.id {
		return nil, fmt.Errorf("%w: %q != %q", ErrQuorumMismatch, cmd.Context().QuorumID, q.id)
	}

	members := q.Members()
	threshold := q.threshold

	switch cmd.Kind() {
	case command.KindMemberAddition:
		p, err := cmd.MemberAddition()
		if err != nil {
			return nil, err
		}
		if q.Contains(p.Member.Key) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, p.Member.Key.Short())
		}
		members = append(members, p.Member)
		if p.Threshold != 0 {
			threshold = int(p.Threshold)
		}

	case command.KindMemberRemoval:
		p, err := cmd.MemberRemoval()
		if err != nil {
			return nil, err
		}
		if !q.Contains(p.Key) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMember, p.Key.Short())
		}
		members = slices.DeleteFunc(members, func(m identity.SubIdentity) bool {
			return m.Key == p.Key
		})
		if p.Threshold != 0 {
			threshold = int(p.Threshold)
		} else if threshold > len(members) {
			threshold = len(members)
		}

	case command.KindIdentityRotation:
		p, err := cmd.IdentityRotation()
		if err != nil {
			return nil, err
		}
		old, ok := q.Member(p.Old)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMember, p.Old.Short())
		}
		if q.Contains(p.New) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, p.New.Short())
		}
		for i := range members {
			if members[i].Key == p.Old {
				members[i] = identity.SubIdentity{Key: p.New, Label: old.Label}
			}
		}
	}

	return build(q.id, q.epoch+1, members, threshold)
}
