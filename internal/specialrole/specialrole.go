// Package specialrole implements the Special Role entity (spec.md §3):
// named, bounded tool/skill allowlists assignable to users or platform
// roles, consumed by safe-mode tool filtering.
//
// Grounded on original_source/stark-backend/src/controllers/special_roles.rs
// and tools/builtin/core/modify_special_role.rs.
package specialrole

import (
	"errors"
	"regexp"
	"sync"
)

const (
	// MaxRoles is the maximum number of distinct special roles.
	MaxRoles = 10
	// MaxUserAssignments is the maximum number of user-id to role assignments.
	MaxUserAssignments = 100
	// MaxPlatformRoleAssignments is the maximum number of platform-role-id
	// to role mappings.
	MaxPlatformRoleAssignments = 100
)

var (
	ErrLimitExceeded  = errors.New("specialrole: limit exceeded")
	ErrInvalidName    = errors.New("specialrole: name must be alphanumeric/underscore")
	ErrNotFound       = errors.New("specialrole: role not found")
	ErrAlreadyExists  = errors.New("specialrole: role already exists")
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Role is a named allowlist of tools and skills.
type Role struct {
	Name         string
	AllowedTools map[string]struct{}
	AllowedSkills map[string]struct{}
	Description  string
}

// Store manages the bounded set of roles and their assignments.
type Store struct {
	mu                sync.RWMutex
	roles             map[string]*Role
	userAssignments   map[string]string // user_id -> role name
	platformRoleAssignments map[string]string // platform_role_id -> role name
}

// NewStore creates an empty role store.
func NewStore() *Store {
	return &Store{
		roles:                   make(map[string]*Role),
		userAssignments:         make(map[string]string),
		platformRoleAssignments: make(map[string]string),
	}
}

// CreateRole adds a new role. Fails if the name is invalid, already exists,
// or the role-count limit would be exceeded.
func (s *Store) CreateRole(name, description string, allowedTools, allowedSkills []string) (*Role, error) {
	if !nameRE.MatchString(name) {
		return nil, ErrInvalidName
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.roles[name]; exists {
		return nil, ErrAlreadyExists
	}
	if len(s.roles) >= MaxRoles {
		return nil, ErrLimitExceeded
	}

	role := &Role{
		Name:          name,
		Description:   description,
		AllowedTools:  toSet(allowedTools),
		AllowedSkills: toSet(allowedSkills),
	}
	s.roles[name] = role
	return role, nil
}

// GetRole returns a role by name.
func (s *Store) GetRole(name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	return role, nil
}

// DeleteRole removes a role and its assignments.
func (s *Store) DeleteRole(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; !ok {
		return ErrNotFound
	}
	delete(s.roles, name)
	for uid, rn := range s.userAssignments {
		if rn == name {
			delete(s.userAssignments, uid)
		}
	}
	for pid, rn := range s.platformRoleAssignments {
		if rn == name {
			delete(s.platformRoleAssignments, pid)
		}
	}
	return nil
}

// AssignUser assigns a user id to a role, subject to MaxUserAssignments.
func (s *Store) AssignUser(userID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleName]; !ok {
		return ErrNotFound
	}
	if _, exists := s.userAssignments[userID]; !exists && len(s.userAssignments) >= MaxUserAssignments {
		return ErrLimitExceeded
	}
	s.userAssignments[userID] = roleName
	return nil
}

// AssignPlatformRole maps a platform role id (e.g. a Discord role id) to a
// special role, subject to MaxPlatformRoleAssignments.
func (s *Store) AssignPlatformRole(platformRoleID, roleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleName]; !ok {
		return ErrNotFound
	}
	if _, exists := s.platformRoleAssignments[platformRoleID]; !exists && len(s.platformRoleAssignments) >= MaxPlatformRoleAssignments {
		return ErrLimitExceeded
	}
	s.platformRoleAssignments[platformRoleID] = roleName
	return nil
}

// ResolveForUser returns the roles applicable to a user, combining their
// direct assignment with any roles granted via their platform role ids.
func (s *Store) ResolveForUser(userID string, platformRoleIDs []string) []*Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*Role

	if roleName, ok := s.userAssignments[userID]; ok {
		if role, ok := s.roles[roleName]; ok {
			seen[roleName] = struct{}{}
			out = append(out, role)
		}
	}
	for _, pid := range platformRoleIDs {
		roleName, ok := s.platformRoleAssignments[pid]
		if !ok {
			continue
		}
		if _, dup := seen[roleName]; dup {
			continue
		}
		if role, ok := s.roles[roleName]; ok {
			seen[roleName] = struct{}{}
			out = append(out, role)
		}
	}
	return out
}

// AllowedToolSet unions the AllowedTools of every role in roles.
func AllowedToolSet(roles []*Role) map[string]struct{} {
	out := make(map[string]struct{})
	for _, r := range roles {
		for t := range r.AllowedTools {
			out[t] = struct{}{}
		}
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
