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

// Package backup encrypts a secret share for transport between two
// sub-identities of the same quorum and recovers it on the other side.
//
// Key schedule:
//
//	static    = ECDH(sender, recipient)
//	ephemeral = ECDH(e, recipient)            e is fresh per backup
//	key       = HKDF-SHA256(ikm = static || ephemeral,
//	                        salt = E,          E = e·G, compressed
//	                        info = InfoLabel || context)
//	sealed    = AEAD(key, share, aad = header || context)
//
// The static term authenticates the sender, the ephemeral term makes every
// backup key unique. Both identities only perform ECDH through
// identity.KeyAgreer, so their private scalars never enter this package.
// Every shared secret, derived key and intermediate buffer is wiped before
// returning, on success and on failure.
package backup

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/aead"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/ecdh"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/secret"
	"github.com/jeremyhahn/go-quorumshare/pkg/encoding"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/logging"
)

const (
	// Version is the envelope format version.
	Version uint8 = 1

	// InfoLabel prefixes the HKDF info for backup keys.
	InfoLabel = "quorumshare/v1/backup"

	// MaxShareSize bounds the plaintext accepted for backup.
	MaxShareSize = 64 * 1024
)

// EncryptedShare is a share sealed for one recipient.
type EncryptedShare struct {
	Version    uint8              `cbor:"1,keyasint" json:"version"`
	Suite      aead.Suite         `cbor:"2,keyasint" json:"suite"`
	Ephemeral  identity.PublicKey `cbor:"3,keyasint" json:"ephemeral"`
	Nonce      []byte             `cbor:"4,keyasint" json:"nonce"`
	Ciphertext []byte             `cbor:"5,keyasint" json:"ciphertext"`
	Tag        []byte             `cbor:"6,keyasint" json:"tag"`
}

// MarshalBinary encodes the envelope as canonical CBOR.
func (e *EncryptedShare) MarshalBinary() ([]byte, error) {
	type wire EncryptedShare
	return encoding.Marshal((*wire)(e))
}

// UnmarshalBinary decodes an envelope.
func (e *EncryptedShare) UnmarshalBinary(data []byte) error {
	type wire EncryptedShare
	var w wire
	if err := encoding.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("backup: decode: %w", err)
	}
	*e = EncryptedShare(w)
	return nil
}

type header struct {
	_         struct{} `cbor:",toarray"`
	Version   uint8
	Suite     aead.Suite
	Ephemeral identity.PublicKey
	Context   []byte
}

// Codec performs share backup and recovery.
type Codec struct {
	suite  aead.Suite
	random io.Reader
	logger logging.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithSuite selects the AEAD used for new backups. Recovery always uses
// the suite recorded in the envelope.
func WithSuite(s aead.Suite) Option {
	return func(c *Codec) {
		c.suite = s
	}
}

// WithRandom sets the entropy source for AEAD nonces.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		c.random = r
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Codec) {
		c.logger = l
	}
}

// NewCodec returns a Codec. The default suite is AES-256-GCM.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		suite:  aead.AES256GCM,
		random: rand.Reader,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Suite returns the AEAD used for new backups.
func (c *Codec) Suite() aead.Suite {
	return c.suite
}

// Backup seals share for recipient. The caller keeps ownership of share.
func (c *Codec) Backup(share []byte, sender identity.KeyAgreer, recipient identity.PublicKey, ctx Context) (*EncryptedShare, error) {
	if len(share) == 0 {
		return nil, ErrEmptyShare
	}
	if len(share) > MaxShareSize {
		return nil, fmt.Errorf("backup: share exceeds %d bytes", MaxShareSize)
	}
	if !c.suite.IsValid() {
		return nil, fmt.Errorf("%w: %d", aead.ErrUnsupportedSuite, c.suite)
	}
	recipientPub, err := recipient.ECPublicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ecdh.ErrInvalidPoint, err)
	}
	if err := ctx.Validate(); err != nil {
		return nil, err
	}
	if ctx.Recipient != recipient {
		return nil, fmt.Errorf("%w: context recipient %s is not %s", ErrInvalidContext, ctx.Recipient.Short(), recipient.Short())
	}

	ephPriv, err := ecdh.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer ephPriv.Zero()
	ephPub := identity.FromECPublicKey(ephPriv.PubKey())

	static, err := sender.SharedSecret(recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}
	defer secret.Wipe(static)

	ephemeral, err := ecdh.DeriveSharedSecret(ephPriv, recipientPub)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe(ephemeral)

	key, aad, err := deriveKey(static, ephemeral, c.suite, ephPub, ctx)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe(key)

	sealed, err := aead.Seal(c.suite, key, share, aad, c.random)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("share sealed",
		logging.String("quorum_id", ctx.QuorumID),
		logging.String("share_id", ctx.ShareID),
		logging.String("recipient", recipient.Short()),
		logging.String("suite", c.suite.String()),
		logging.Redacted("share", share))

	return &EncryptedShare{
		Version:    Version,
		Suite:      c.suite,
		Ephemeral:  ephPub,
		Nonce:      sealed.Nonce,
		Ciphertext: sealed.Ciphertext,
		Tag:        sealed.Tag,
	}, nil
}

// Recover opens es. The returned share is owned by the caller, who must
// wipe it; prefer RecoverFunc, which does so automatically. Any mismatch in
// envelope, context, sender or recipient yields ErrAuthenticationFailure
// and no plaintext.
func (c *Codec) Recover(es *EncryptedShare, recipient identity.KeyAgreer, sender identity.PublicKey, ctx Context) ([]byte, error) {
	if es == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrAuthenticationFailure)
	}
	if es.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, es.Version)
	}
	if !es.Suite.IsValid() {
		return nil, fmt.Errorf("%w: %d", aead.ErrUnsupportedSuite, es.Suite)
	}
	// A malformed context is indistinguishable from a tampered one.
	if err := ctx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
	}
	if err := sender.Validate(); err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ecdh.ErrInvalidPoint, err)
	}
	if err := es.Ephemeral.Validate(); err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", ErrAuthenticationFailure, err)
	}

	static, err := recipient.SharedSecret(sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}
	defer secret.Wipe(static)

	ephemeral, err := recipient.SharedSecret(es.Ephemeral)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyAgreement, err)
	}
	defer secret.Wipe(ephemeral)

	key, aad, err := deriveKey(static, ephemeral, es.Suite, es.Ephemeral, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailure, err)
	}
	defer secret.Wipe(key)

	share, err := aead.Open(es.Suite, key, &aead.Sealed{
		Ciphertext: es.Ciphertext,
		Nonce:      es.Nonce,
		Tag:        es.Tag,
	}, aad)
	if err != nil {
		c.logger.Warn("share recovery failed",
			logging.String("quorum_id", ctx.QuorumID),
			logging.String("share_id", ctx.ShareID),
			logging.String("sender", sender.Short()),
			logging.String("severity", "adversarial"),
			logging.Error(err))
		return nil, err
	}
	return share, nil
}

// RecoverFunc opens es, passes the share to fn and wipes it when fn
// returns, whether fn succeeds, fails or panics.
func (c *Codec) RecoverFunc(es *EncryptedShare, recipient identity.KeyAgreer, sender identity.PublicKey, ctx Context, fn func(share []byte) error) error {
	share, err := c.Recover(es, recipient, sender, ctx)
	if err != nil {
		return err
	}
	return secret.Use(share, fn)
}

// deriveKey returns the AEAD key and associated data for one envelope.
// The key is owned by the caller.
func deriveKey(static, ephemeral []byte, suite aead.Suite, ephPub identity.PublicKey, ctx Context) (key, aad []byte, err error) {
	ctxBytes, err := ctx.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}

	aad, err = encoding.Marshal(header{
		Version:   Version,
		Suite:     suite,
		Ephemeral: ephPub,
		Context:   ctxBytes,
	})
	if err != nil {
		return nil, nil, err
	}

	ikm := make([]byte, 0, len(static)+len(ephemeral))
	ikm = append(ikm, static...)
	ikm = append(ikm, ephemeral...)
	defer secret.Wipe(ikm)

	info := make([]byte, 0, len(InfoLabel)+len(ctxBytes))
	info = append(info, InfoLabel...)
	info = append(info, ctxBytes...)

	key, err = ecdh.DeriveKey(ikm, ephPub[:], info, aead.KeySize)
	if err != nil {
		return nil, nil, err
	}
	return key, aad, nil
}

var defaultCodec = NewCodec()

// BackupShare seals share with the default codec.
func BackupShare(share []byte, sender identity.KeyAgreer, recipient identity.PublicKey, ctx Context) (*EncryptedShare, error) {
	return defaultCodec.Backup(share, sender, recipient, ctx)
}

// RecoverShare opens es with the default codec.
func RecoverShare(es *EncryptedShare, recipient identity.KeyAgreer, sender identity.PublicKey, ctx Context) ([]byte, error) {
	return defaultCodec.Recover(es, recipient, sender, ctx)
}
