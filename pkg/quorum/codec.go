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

package quorum

import (
	"encoding/json"
	"fmt"

	"github.com/jeremyhahn/go-quorumshare/pkg/encoding"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
)

type snapshot struct {
	ID        string                 `cbor:"1,keyasint" json:"id"`
	Epoch     uint64                 `cbor:"2,keyasint" json:"epoch"`
	Threshold uint                   `cbor:"3,keyasint" json:"threshold"`
	Members   []identity.SubIdentity `cbor:"4,keyasint" json:"members"`
}

func (q *Quorum) snapshot() snapshot {
	return snapshot{
		ID:        q.id,
		Epoch:     q.epoch,
		Threshold: uint(q.threshold),
		Members:   q.Members(),
	}
}

func fromSnapshot(s snapshot) (*Quorum, error) {
	if s.Epoch == 0 {
		return nil, fmt.Errorf("%w: epoch 0", ErrInvalidID)
	}
	return build(s.ID, s.Epoch, s.Members, int(s.Threshold))
}

// MarshalBinary encodes the quorum snapshot as canonical CBOR.
func (q *Quorum) MarshalBinary() ([]byte, error) {
	return encoding.Marshal(q.snapshot())
}

// UnmarshalBinary decodes and re-validates a snapshot.
func (q *Quorum) UnmarshalBinary(data []byte) error {
	var s snapshot
	if err := encoding.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("quorum: decode: %w", err)
	}
	decoded, err := fromSnapshot(s)
	if err != nil {
		return err
	}
	*q = *decoded
	return nil
}

// Decode parses a snapshot produced by MarshalBinary.
func Decode(data []byte) (*Quorum, error) {
	q := new(Quorum)
	if err := q.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return q, nil
}

type jsonQuorum struct {
	snapshot
	Digest string `json:"aggregate_digest"`
}

// MarshalJSON renders the quorum for operators, including its digest.
func (q *Quorum) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonQuorum{snapshot: q.snapshot(), Digest: q.digest.Hex()})
}

// UnmarshalJSON accepts the MarshalJSON form. The digest field is ignored
// and recomputed.
func (q *Quorum) UnmarshalJSON(data []byte) error {
	var j jsonQuorum
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("quorum: decode json: %w", err)
	}
	if j.Epoch == 0 {
		j.Epoch = 1
	}
	decoded, err := fromSnapshot(j.snapshot)
	if err != nil {
		return err
	}
	*q = *decoded
	return nil
}
