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

package backup

import (
	"fmt"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/encoding"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

// Operation is the operation name bound into every backup context.
const Operation = "backup"

// Context binds a backup to its recipient and to one quorum version. It is
// mixed into key derivation and authenticated as associated data, so a
// ciphertext cannot be opened for another recipient, share or quorum state.
type Context struct {
	_            struct{} `cbor:",toarray"`
	Operation    string
	Recipient    identity.PublicKey
	QuorumID     string
	QuorumDigest hash.Digest
	ShareID      string
}

// NewContext builds the context for sending shareID of q to recipient.
func NewContext(recipient identity.PublicKey, q *quorum.Quorum, shareID string) (Context, error) {
	c := Context{
		Operation:    Operation,
		Recipient:    recipient,
		QuorumID:     q.ID(),
		QuorumDigest: q.AggregateDigest(),
		ShareID:      shareID,
	}
	return c, c.Validate()
}

// Validate checks that every field is populated.
func (c Context) Validate() error {
	switch {
	case c.Operation != Operation:
		return fmt.Errorf("%w: operation %q", ErrInvalidContext, c.Operation)
	case c.Recipient.Validate() != nil:
		return fmt.Errorf("%w: recipient key", ErrInvalidContext)
	case c.QuorumID == "":
		return fmt.Errorf("%w: missing quorum id", ErrInvalidContext)
	case c.QuorumDigest.IsZero():
		return fmt.Errorf("%w: missing quorum digest", ErrInvalidContext)
	case c.ShareID == "":
		return fmt.Errorf("%w: missing share id", ErrInvalidContext)
	}
	return nil
}

// MarshalBinary returns the canonical context encoding.
func (c Context) MarshalBinary() ([]byte, error) {
	type wire Context
	return encoding.Marshal(wire(c))
}
