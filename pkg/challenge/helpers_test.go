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

package challenge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-quorumshare/pkg/command"
	"github.com/jeremyhahn/go-quorumshare/pkg/crypto/hash"
	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	providers map[string]*identity.SoftwareProvider
	quorum    *quorum.Quorum
	command   command.Command
	now       time.Time
}

func (f *fixture) clock() time.Time {
	return f.now
}

func (f *fixture) key(name string) identity.PublicKey {
	return f.providers[name].PublicKey()
}

// newFixture builds a quorum of members with the given threshold and an
// extra non-member provider "D".
func newFixture(t *testing.T, threshold int, members ...string) *fixture {
	t.Helper()

	f := &fixture{providers: make(map[string]*identity.SoftwareProvider), now: epoch}
	subs := make([]identity.SubIdentity, 0, len(members))
	for _, name := range append(members, "D") {
		p, err := identity.NewSoftwareProvider()
		require.NoError(t, err)
		t.Cleanup(p.Destroy)
		f.providers[name] = p
		if name != "D" {
			subs = append(subs, p.SubIdentity(name))
		}
	}

	q, err := quorum.New("wallet", subs, threshold)
	require.NoError(t, err)
	f.quorum = q

	ctx, err := command.NewContext("wallet", "share-0")
	require.NoError(t, err)
	f.command, err = command.NewSigning(ctx, hash.Sum([]byte("transfer 1 BTC")).Bytes())
	require.NoError(t, err)
	return f
}

func (f *fixture) build(t *testing.T) Challenge {
	t.Helper()
	c, err := Build(f.command, f.quorum, WithBuildClock(f.clock), WithTTL(time.Minute))
	require.NoError(t, err)
	return c
}

func (f *fixture) approve(t *testing.T, c Challenge, names ...string) []Approval {
	t.Helper()
	out := make([]Approval, 0, len(names))
	for _, name := range names {
		a, err := Collect(c, f.providers[name])
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}
