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

package health

import (
	"context"
	"errors"
	"testing"

	"github.com/jeremyhahn/go-quorumshare/pkg/identity"
	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage/memory"
)

func TestRegisterCheck(t *testing.T) {
	checker := NewChecker()

	checker.RegisterCheck("b", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	checker.RegisterCheck("a", func(ctx context.Context) CheckResult {
		return CheckResult{Name: "custom", Status: StatusDegraded}
	})

	// Register nil check (should be ignored)
	checker.RegisterCheck("nil", nil)

	names := checker.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names %v", names)
	}

	results := checker.Run(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Name != "custom" {
		t.Errorf("expected check-provided name to win, got %s", results[0].Name)
	}
	if results[1].Name != "b" {
		t.Errorf("expected registered name to fill in, got %s", results[1].Name)
	}
	if got := AggregateStatus(results); got != StatusDegraded {
		t.Errorf("expected degraded, got %s", got)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	checker := NewChecker()
	ran := false
	checker.RegisterCheck("x", func(ctx context.Context) CheckResult {
		ran = true
		return CheckResult{Status: StatusHealthy}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := checker.Run(ctx)
	if ran {
		t.Error("check ran after cancellation")
	}
	if results[0].Status != StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", results[0].Status)
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name    string
		results []CheckResult
		want    Status
	}{
		{"empty", nil, StatusHealthy},
		{"healthy", []CheckResult{{Status: StatusHealthy}}, StatusHealthy},
		{"degraded", []CheckResult{{Status: StatusHealthy}, {Status: StatusDegraded}}, StatusDegraded},
		{"unhealthy wins", []CheckResult{{Status: StatusDegraded}, {Status: StatusUnhealthy}}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AggregateStatus(tt.results); got != tt.want {
				t.Errorf("AggregateStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStorageCheck(t *testing.T) {
	backend := memory.New()
	result := StorageCheck(backend)(context.Background())
	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s: %s", result.Status, result.Error)
	}
	if ok, _ := backend.Exists(probeKey); ok {
		t.Error("probe key left behind")
	}

	_ = backend.Close()
	result = StorageCheck(backend)(context.Background())
	if result.Status != StatusUnhealthy {
		t.Errorf("expected unhealthy on closed backend, got %s", result.Status)
	}
}

func TestQuorumCheck(t *testing.T) {
	backend := memory.New()
	repo := quorum.NewRepository(backend)

	if got := QuorumCheck(repo)(context.Background()).Status; got != StatusDegraded {
		t.Errorf("expected degraded with no quorums, got %s", got)
	}

	p, err := identity.NewSoftwareProvider()
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()
	q, err := quorum.New("wallet", []identity.SubIdentity{p.SubIdentity("laptop")}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(q); err != nil {
		t.Fatal(err)
	}
	if got := QuorumCheck(repo)(context.Background()).Status; got != StatusHealthy {
		t.Errorf("expected healthy, got %s", got)
	}

	if err := backend.Put(storage.QuorumPath("wallet", 2), []byte("garbage"), nil); err != nil {
		t.Fatal(err)
	}
	if got := QuorumCheck(repo)(context.Background()).Status; got != StatusUnhealthy {
		t.Errorf("expected unhealthy for corrupt snapshot, got %s", got)
	}
}

func TestIdentityCheck(t *testing.T) {
	backend := memory.New()
	ok := func(string) error { return nil }

	if got := IdentityCheck(backend, ok)(context.Background()).Status; got != StatusDegraded {
		t.Errorf("expected degraded with no identities, got %s", got)
	}

	if err := backend.Put(storage.IdentityPath("laptop"), []byte{1}, nil); err != nil {
		t.Fatal(err)
	}
	if got := IdentityCheck(backend, ok)(context.Background()).Status; got != StatusHealthy {
		t.Errorf("expected healthy, got %s", got)
	}

	broken := func(string) error { return errors.New("bad key file") }
	result := IdentityCheck(backend, broken)(context.Background())
	if result.Status != StatusUnhealthy || result.Error != "bad key file" {
		t.Errorf("unexpected result %+v", result)
	}
}
