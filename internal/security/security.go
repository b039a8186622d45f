// Package security authorizes principals to run tasks.
package security

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
)

// ErrUnauthorized is returned when a principal may not perform an action.
var ErrUnauthorized = errors.New("unauthorized")

// Permission is an action on a task.
type Permission string

// Task permissions.
const (
	PermExecute Permission = "execute"
	PermCancel  Permission = "cancel"
)

// Authorizer checks whether principal holds perm on the named task.
type Authorizer interface {
	Authorize(ctx context.Context, principal, taskName string, perm Permission) error
}

// AllowAll grants every permission.
type AllowAll struct{}

// Authorize always succeeds.
func (AllowAll) Authorize(context.Context, string, string, Permission) error {
	return nil
}

// ACL grants permissions per principal using task-name glob patterns
// (path.Match syntax). The principal "*" applies to everyone.
type ACL struct {
	mu     sync.RWMutex
	grants map[string]map[Permission][]string
}

// NewACL creates an empty ACL that denies everything.
func NewACL() *ACL {
	return &ACL{grants: make(map[string]map[Permission][]string)}
}

// Grant allows principal to perform perm on tasks matching pattern.
func (a *ACL) Grant(principal string, perm Permission, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("grant %q: %w", pattern, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	perms, ok := a.grants[principal]
	if !ok {
		perms = make(map[Permission][]string)
		a.grants[principal] = perms
	}
	perms[perm] = append(perms[perm], pattern)
	return nil
}

// Authorize checks the grants of principal and of "*".
func (a *ACL) Authorize(_ context.Context, principal, taskName string, perm Permission) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, p := range []string{principal, "*"} {
		for _, pattern := range a.grants[p][perm] {
			if ok, _ := path.Match(pattern, taskName); ok {
				return nil
			}
		}
	}
	return fmt.Errorf("%s %s on %q: %w", principal, perm, taskName, ErrUnauthorized)
}
