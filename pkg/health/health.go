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

// Package health runs consistency checks over a quorumshare data
// directory: storage round trips, stored quorum snapshots and local
// identities.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeremyhahn/go-quorumshare/pkg/quorum"
	"github.com/jeremyhahn/go-quorumshare/pkg/storage"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component works but something needs
	// operator attention.
	StatusDegraded Status = "degraded"
)

// probeKey is written and removed by StorageCheck.
const probeKey = "health/probe"

// CheckResult represents the result of a single health check.
type CheckResult struct {
	// Name is the identifier for this health check.
	Name string `json:"name"`
	// Status is the health status of the component.
	Status Status `json:"status"`
	// Message provides additional context about the status.
	Message string `json:"message,omitempty"`
	// Latency is how long the check took to execute.
	Latency time.Duration `json:"latency"`
	// Error contains error details if the check failed.
	Error string `json:"error,omitempty"`
}

// CheckFunc performs one health check.
type CheckFunc func(ctx context.Context) CheckResult

// Checker holds named checks and runs them in name order.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]CheckFunc)}
}

// RegisterCheck adds a health check with the given name.
// If a check with this name already exists, it will be replaced.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Names returns the registered check names in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes every check and returns the results in name order. A
// cancelled context marks the remaining checks unhealthy without running
// them.
func (c *Checker) Run(ctx context.Context) []CheckResult {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			results = append(results, unhealthy(name, "check not run", err))
			continue
		}
		start := time.Now()
		result := checks[name](ctx)
		result.Latency = time.Since(start)
		if result.Name == "" {
			result.Name = name
		}
		results = append(results, result)
	}
	return results
}

// AggregateStatus returns the overall status based on check results.
// - If all checks are healthy, returns StatusHealthy
// - If any check is unhealthy, returns StatusUnhealthy
// - If any check is degraded (and none unhealthy), returns StatusDegraded
func AggregateStatus(results []CheckResult) Status {
	hasUnhealthy := false
	hasDegraded := false

	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func unhealthy(name, msg string, err error) CheckResult {
	return CheckResult{Name: name, Status: StatusUnhealthy, Message: msg, Error: err.Error()}
}

// StorageCheck writes, reads back and deletes a probe record.
func StorageCheck(backend storage.Backend) CheckFunc {
	return func(context.Context) CheckResult {
		const name = "storage"
		want := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		if err := backend.Put(probeKey, want, nil); err != nil {
			return unhealthy(name, "write failed", err)
		}
		got, err := backend.Get(probeKey)
		if err != nil {
			return unhealthy(name, "read failed", err)
		}
		if err := backend.Delete(probeKey); err != nil {
			return unhealthy(name, "delete failed", err)
		}
		if string(got) != string(want) {
			return unhealthy(name, "read back mismatch", errors.New("probe value changed"))
		}
		return CheckResult{Name: name, Status: StatusHealthy, Message: "read/write ok"}
	}
}

// QuorumCheck decodes the latest epoch of every stored quorum. Snapshots
// are re-validated on decode, so a corrupted member set fails here. No
// quorums at all is reported as degraded.
func QuorumCheck(repo *quorum.Repository) CheckFunc {
	return func(ctx context.Context) CheckResult {
		const name = "quorums"
		ids, err := repo.List()
		if err != nil {
			return unhealthy(name, "list failed", err)
		}
		if len(ids) == 0 {
			return CheckResult{Name: name, Status: StatusDegraded, Message: "no quorums stored"}
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return unhealthy(name, "interrupted", err)
			}
			if _, err := repo.Latest(id); err != nil {
				return unhealthy(name, fmt.Sprintf("quorum %q unreadable", id), err)
			}
		}
		return CheckResult{Name: name, Status: StatusHealthy, Message: fmt.Sprintf("%d quorum(s) ok", len(ids))}
	}
}

// IdentityCheck lists the local identities and opens each with load.
func IdentityCheck(backend storage.Backend, load func(name string) error) CheckFunc {
	return func(ctx context.Context) CheckResult {
		const name = "identities"
		names, err := storage.ListIdentities(backend)
		if err != nil {
			return unhealthy(name, "list failed", err)
		}
		if len(names) == 0 {
			return CheckResult{Name: name, Status: StatusDegraded, Message: "no identities stored"}
		}
		for _, n := range names {
			if err := ctx.Err(); err != nil {
				return unhealthy(name, "interrupted", err)
			}
			if err := load(n); err != nil {
				return unhealthy(name, fmt.Sprintf("identity %q unreadable", n), err)
			}
		}
		return CheckResult{Name: name, Status: StatusHealthy, Message: fmt.Sprintf("%d identity(ies) ok", len(names))}
	}
}
