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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type listBackend struct {
	Backend
	keys []string
}

func (l listBackend) List(prefix string) ([]string, error) {
	var out []string
	for _, k := range l.keys {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func TestQuorumPath_SortsByEpoch(t *testing.T) {
	assert.Less(t, QuorumPath("q", 9), QuorumPath("q", 10))
	assert.Equal(t, "quorums/q/00000000000000000002.cbor", QuorumPath("q", 2))
	assert.Equal(t, "quorums/q/", QuorumPrefix("q"))
}

func TestListQuorums(t *testing.T) {
	b := listBackend{keys: []string{
		QuorumPath("alpha", 1),
		QuorumPath("alpha", 2),
		QuorumPath("beta", 1),
		NoncePath("alpha", "00"),
	}}

	ids, err := ListQuorums(b)
	assert.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("laptop-1"))
	assert.NoError(t, ValidateName("share_0.v2"))
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "a\x00", "a b", "a:b", "\u00e9", strings.Repeat("x", MaxNameLength+1)} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidKey, bad)
	}
}

func TestAuditPath_SortsByTime(t *testing.T) {
	a := AuditPath("wallet", 9, "x")
	b := AuditPath("wallet", 10, "a")
	assert.Less(t, a, b)
	assert.True(t, strings.HasPrefix(a, AuditPrefix("wallet")))
	assert.True(t, strings.HasPrefix(a, AuditPrefix("")))
}
