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
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/aead"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/ecdh"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

type pair struct {
	sender    *identity.SoftwareProvider
	recipient *identity.SoftwareProvider
	outsider  *identity.SoftwareProvider
	quorum    *quorum.Quorum
	ctx       Context
}

func newPair(t *testing.T) *pair {
	t.Helper()

	p := &pair{}
	for _, dst := range []**identity.SoftwareProvider{&p.sender, &p.recipient, &p.outsider} {
		prov, err := identity.NewSoftwareProvider()
		require.NoError(t, err)
		t.Cleanup(prov.Destroy)
		*dst = prov
	}

	q, err := quorum.New("wallet", []identity.SubIdentity{
		p.sender.SubIdentity("phone"),
		p.recipient.SubIdentity("laptop"),
	}, 2)
	require.NoError(t, err)
	p.quorum = q

	p.ctx, err = NewContext(p.recipient.PublicKey(), q, "share-0")
	require.NoError(t, err)
	return p
}

var share = []byte("0123456789abcdef0123456789abcdef")

func TestBackupRecover_RoundTrip(t *testing.T) {
	for _, suite := range []aead.Suite{aead.AES256GCM, aead.ChaCha20Poly1305} {
		t.Run(suite.String(), func(t *testing.T) {
			p := newPair(t)
			codec := NewCodec(WithSuite(suite))

			es, err := codec.Backup(share, p.sender, p.recipient.PublicKey(), p.ctx)
			require.NoError(t, err)
			assert.Equal(t, Version, es.Version)
			assert.Equal(t, suite, es.Suite)
			assert.Len(t, es.Nonce, aead.NonceSize)
			assert.Len(t, es.Tag, aead.TagSize)
			assert.NotContains(t, string(es.Ciphertext), string(share))

			got, err := codec.Recover(es, p.recipient, p.sender.PublicKey(), p.ctx)
			require.NoError(t, err)
			assert.Equal(t, share, got)
		})
	}
}

func TestBackup_FreshEphemeralPerCall(t *testing.T) {
	p := newPair(t)

	a, err := BackupShare(share, p.sender, p.recipient.PublicKey(), p.ctx)
	require.NoError(t, err)
	b, err := BackupShare(share, p.sender, p.recipient.PublicKey(), p.ctx)
	require.NoError(t, err)

	assert.NotEqual(t, a.Ephemeral, b.Ephemeral)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestBackup_DoesNotModifyInput(t *testing.T) {
	p := newPair(t)
	in := bytes.Clone(share)

	_, err := BackupShare(in, p.sender, p.recipient.PublicKey(), p.ctx)
	require.NoError(t, err)
	assert.Equal(t, share, in)
}

func TestBackup_Validation(t *testing.T) {
	p := newPair(t)

	_, err := BackupShare(nil, p.sender, p.recipient.PublicKey(), p.ctx)
	assert.ErrorIs(t, err, ErrEmptyShare)

	_, err = BackupShare(make([]byte, MaxShareSize+1), p.sender, p.recipient.PublicKey(), p.ctx)
	assert.Error(t, err)

	_, err = BackupShare(share, p.sender, identity.PublicKey{}, p.ctx)
	assert.ErrorIs(t, err, ecdh.ErrInvalidPoint)

	_, err = BackupShare(share, p.sender, p.outsider.PublicKey(), p.ctx)
	assert.ErrorIs(t, err, ErrInvalidContext)

	bad := p.ctx
	bad.ShareID = ""
	_, err = BackupShare(share, p.sender, p.recipient.PublicKey(), bad)
	assert.ErrorIs(t, err, ErrInvalidContext)

	_, err = NewCodec(WithSuite(aead.Suite(9))).Backup(share, p.sender, p.recipient.PublicKey(), p.ctx)
	assert.ErrorIs(t, err, aead.ErrUnsupportedSuite)
}

func TestBackup_DestroyedSender(t *testing.T) {
	p := newPair(t)
	p.sender.Destroy()

	_, err := BackupShare(share, p.sender, p.recipient.PublicKey(), p.ctx)
	assert.ErrorIs(t, err, ErrKeyAgreement)
}

func TestRecover_WrongParties(t *testing.T) {
	p := newPair(t)
	es, err := BackupShare(share, p.sender, p.recipient.PublicKey(), p.ctx)
	require.NoError(t, err)

	got, err := RecoverShare(es, p.outsider, p.sender.PublicKey(), p.ctx)
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
	assert.Nil(t, got)

	got, err = RecoverShare(es, p.recipient, p.outsider.PublicKey(), p.ctx)
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
	assert.Nil(t, got)

	_, err = RecoverShare(es, p.recipient, identity.PublicKey{}, p.ctx)
	assert.ErrorIs(t, err, ecdh.ErrInvalidPoint)
}

func flipEach(t *testing.T, name string, field func(*EncryptedShare) []byte, es *EncryptedShare, open func(*EncryptedShare) ([]byte, error)) {
	t.Helper()
	n := len(field(es)) * 8
	for bit := 0; bit < n; bit++ {
		tampered := clone(es)
		field(tampered)[bit/8] ^= 1 << (bit % 8)

		got, err := open(tampered)
		if !errors.Is(err, ErrAuthenticationFailure) || got != nil {
			t.Fatalf("%s bit %d: got err=%v plaintext=%x", name, bit, err, got)
		}
	}
}

func clone(es *EncryptedShare) *EncryptedShare {
	c := *es
	c.Nonce = bytes.Clone(es.Nonce)
	c.Ciphertext = bytes.Clone(es.Ciphertext)
	c.Tag = bytes.Clone(es.Tag)
	return &c
}

func TestRecover_TamperEveryBit(t *testing.T) {
	p := newPair(t)
	es, err := BackupShare(share, p.sender, p.recipient.PublicKey(), p.ctx)
	require.NoError(t, err)

	open := func(e *EncryptedShare) ([]byte, error) {
		return RecoverShare(e, p.recipient, p.sender.PublicKey(), p.ctx)
	}

	flipEach(t, "ciphertext", func(e *EncryptedShare) []byte { return e.Ciphertext }, es, open)
	flipEach(t, "tag", func(e *EncryptedShare) []byte { return e.Tag }, es, open)
	flipEach(t, "nonce", func(e *EncryptedShare) []byte { return e.Nonce }, es, open)
	flipEach(t, "ephemeral", func(e *EncryptedShare) []byte { return e.Ephemeral[:] }, es, open)

	truncated := clone(es)
	truncated.Ciphertext = truncated.Ciphertext[:len(truncated.Ciphertext)-1]
	_, err = open(truncated)
	assert.ErrorIs(t, err, ErrAuthenticationFailure)

	swapped := clone(es)
	swapped.Suite = aead.ChaCha20Poly1305
	_, err = open(swapped)
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
}

func TestRecover_TamperContext(t *testing.T) {
	p := newPair(t)
	es, err := BackupShare(share, p.sender, p.recipient.PublicKey(), p.ctx)
	require.NoError(t, err)

	cctx, err := command.NewContext("wallet", "share-0")
	require.NoError(t, err)
	add, err := command.NewMemberAddition(cctx, p.outsider.SubIdentity("tablet"), 2)
	require.NoError(t, err)
	other, err := p.quorum.ApplyMembershipChange(add)
	require.NoError(t, err)

	cases := map[string]func(*Context){
		"share id":  func(c *Context) { c.ShareID = "share-1" },
		"quorum id": func(c *Context) { c.QuorumID = "vault" },
		"recipient": func(c *Context) { c.Recipient = p.outsider.PublicKey() },
		"digest":    func(c *Context) { c.QuorumDigest = other.AggregateDigest() },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := p.ctx
			mutate(&ctx)
			got, err := RecoverShare(es, p.recipient, p.sender.PublicKey(), ctx)
			assert.ErrorIs(t, err, ErrAuthenticationFailure)
			assert.Nil(t, got)
		})
	}

	for i := 0; i < hash.Size; i++ {
		ctx := p.ctx
		ctx.QuorumDigest[i] ^= 0x80
		_, err := RecoverShare(es, p.recipient, p.sender.PublicKey(), ctx)
		require.ErrorIs(t, err, ErrAuthenticationFailure)
	}
}

func TestRecover_FlipContextBits(t *testing.T) {
	p := newPair(t)
	es, err := BackupShare(share, p.sender, p.recipient.PublicKey(), p.ctx)
	require.NoError(t, err)

	flipString := func(s string, i int) string {
		b := []byte(s)
		b[i/8] ^= 1 << (i % 8)
		return string(b)
	}

	fields := []struct {
		name string
		bits int
		flip func(c *Context, i int)
	}{
		{"operation", 8 * len(p.ctx.Operation), func(c *Context, i int) { c.Operation = flipString(c.Operation, i) }},
		{"recipient", 8 * len(p.ctx.Recipient), func(c *Context, i int) { c.Recipient[i/8] ^= 1 << (i % 8) }},
		{"quorum id", 8 * len(p.ctx.QuorumID), func(c *Context, i int) { c.QuorumID = flipString(c.QuorumID, i) }},
		{"quorum digest", 8 * hash.Size, func(c *Context, i int) { c.QuorumDigest[i/8] ^= 1 << (i % 8) }},
		{"share id", 8 * len(p.ctx.ShareID), func(c *Context, i int) { c.ShareID = flipString(c.ShareID, i) }},
	}
	for _, f := range fields {
		t.Run(f.name, func(t *testing.T) {
			for i := 0; i < f.bits; i++ {
				ctx := p.ctx
				f.flip(&ctx, i)
				got, err := RecoverShare(es, p.recipient, p.sender.PublicKey(), ctx)
				require.ErrorIs(t, err, ErrAuthenticationFailure, "bit %d", i)
				require.Nil(t, got)
			}
		})
	}
}

func TestRecover_UnsupportedVersion(t *testing.T) {
	p := newPair(t)
	es, err := BackupShare(share, p.sender, p.recipient.PublicKey(), p.ctx)
	require.NoError(t, err)

	es.Version = 2
	_, err = RecoverShare(es, p.recipient, p.sender.PublicKey(), p.ctx)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = RecoverShare(nil, p.recipient, p.sender.PublicKey(), p.ctx)
	assert.ErrorIs(t, err, ErrAuthenticationFailure)
}

func TestRecoverFunc_WipesShare(t *testing.T) {
	p := newPair(t)
	codec := NewCodec()
	es, err := codec.Backup(share, p.sender, p.recipient.PublicKey(), p.ctx)
	require.NoError(t, err)

	var seen []byte
	err = codec.RecoverFunc(es, p.recipient, p.sender.PublicKey(), p.ctx, func(s []byte) error {
		assert.Equal(t, share, s)
		seen = s
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(share)), seen)

	sentinel := errors.New("boom")
	err = codec.RecoverFunc(es, p.recipient, p.sender.PublicKey(), p.ctx, func(s []byte) error {
		seen = s
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, make([]byte, len(share)), seen)
}

func TestEncryptedShare_Codec(t *testing.T) {
	p := newPair(t)
	es, err := BackupShare(share, p.sender, p.recipient.PublicKey(), p.ctx)
	require.NoError(t, err)

	data, err := es.MarshalBinary()
	require.NoError(t, err)

	var decoded EncryptedShare
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.Equal(t, *es, decoded)

	got, err := RecoverShare(&decoded, p.recipient, p.sender.PublicKey(), p.ctx)
	require.NoError(t, err)
	assert.Equal(t, share, got)

	assert.Error(t, decoded.UnmarshalBinary([]byte{0xff}))
}

func TestBackup_Concurrent(t *testing.T) {
	p := newPair(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			es, err := BackupShare(share, p.sender, p.recipient.PublicKey(), p.ctx)
			if err != nil {
				errs <- err
				return
			}
			got, err := RecoverShare(es, p.recipient, p.sender.PublicKey(), p.ctx)
			if err == nil && !bytes.Equal(got, share) {
				err = errors.New("plaintext mismatch")
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
