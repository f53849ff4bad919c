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

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/secret"
	"github.com/jeremyhahn/go-quorumshare/pkg/encoding"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
)

const keyFileVersion = 1

// keyFile is the stored form of a local identity.
type keyFile struct {
	_       struct{} `cbor:",toarray"`
	Version uint8
	Digest  hash.Algorithm
	Scalar  []byte
}

var errIdentityExists = errors.New("identity already exists")

// saveIdentity stores p under name. Existing identities are never
// overwritten.
func (a *app) saveIdentity(name string, p *identity.SoftwareProvider) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}
	scalar, err := p.ExportPrivateKey()
	if err != nil {
		return err
	}
	defer secret.Wipe(scalar)

	data, err := encoding.Marshal(keyFile{Version: keyFileVersion, Digest: p.Digest(), Scalar: scalar})
	if err != nil {
		return err
	}
	defer secret.Wipe(data)

	if err := a.backend.Create(storage.IdentityPath(name), data, storage.SecretOptions()); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("%w: %s", errIdentityExists, name)
		}
		return err
	}
	return nil
}

// loadIdentity returns the provider stored under name. The caller must
// Destroy it.
func (a *app) loadIdentity(name string) (*identity.SoftwareProvider, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	data, err := a.backend.Get(storage.IdentityPath(name))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("identity %q not found", name)
		}
		return nil, err
	}
	defer secret.Wipe(data)

	var kf keyFile
	if err := encoding.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("identity %q: %w", name, err)
	}
	defer secret.Wipe(kf.Scalar)
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("identity %q: unsupported key file version %d", name, kf.Version)
	}
	return identity.NewSoftwareProviderFromBytes(kf.Scalar, identity.WithDigest(kf.Digest))
}

// resolveKey accepts a hex public key or the name of a local identity.
func (a *app) resolveKey(s string) (identity.PublicKey, error) {
	if key, err := identity.ParsePublicKeyHex(s); err == nil {
		return key, nil
	}
	p, err := a.loadIdentity(s)
	if err != nil {
		return identity.PublicKey{}, fmt.Errorf("%q is neither a public key nor a local identity", s)
	}
	defer p.Destroy()
	return p.PublicKey(), nil
}

// readBinary decodes a file written by writeBinary.
func readBinary(path string, v interface{ UnmarshalBinary([]byte) error }) error {
	// #nosec G304 - path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := v.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// writeBinary encodes v to path.
func writeBinary(path string, v interface{ MarshalBinary() ([]byte, error) }) error {
	data, err := v.MarshalBinary()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
