package policy

import (
	"strings"
	"sync"

	"github.com/ppiankov/steward/internal/model"
)

// Store resolves the effective autonomy policy for an actor. Resolution never
// fails: every fallback step narrows autonomy, and the final step is the
// maximally restrictive system default.
//
// Resolution order (must not be changed):
//  1. Cache
//  2. Stored policy for (actor, org, scope)
//  3. Stored policy for (actor, org)
//  4. Role-derived template via the injected RoleResolver
//  5. System default
type Store struct {
	mu         sync.RWMutex
	stored     map[string]model.AutonomyPolicy
	cache      map[string]model.AutonomyPolicy
	roles      RoleResolver
	roleLevels map[string]model.AutonomyLevel
}

// NewStore creates a policy store. A nil resolver is valid; role derivation
// then always falls through to the system default.
func NewStore(roles RoleResolver) *Store {
	return &Store{
		stored:     make(map[string]model.AutonomyPolicy),
		cache:      make(map[string]model.AutonomyPolicy),
		roles:      roles,
		roleLevels: DefaultRoleLevels(),
	}
}

// SetRoleLevels overrides the role-to-level mapping.
func (s *Store) SetRoleLevels(levels map[string]model.AutonomyLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleLevels = levels
	s.cache = make(map[string]model.AutonomyPolicy)
}

func key(actor, org, scope string) string {
	return actor + "|" + org + "|" + scope
}

// GetPolicy returns the effective policy for (actor, org, scope). It never
// returns an error: internal failures degrade to the system default.
func (s *Store) GetPolicy(actor, org, scope string) model.AutonomyPolicy {
	k := key(actor, org, scope)

	s.mu.RLock()
	if p, ok := s.cache[k]; ok {
		s.mu.RUnlock()
		return p
	}
	s.mu.RUnlock()

	p := s.resolve(actor, org, scope)

	s.mu.Lock()
	s.cache[k] = p
	s.mu.Unlock()
	return p
}

func (s *Store) resolve(actor, org, scope string) (p model.AutonomyPolicy) {
	// A panicking resolver must not take governance down with it.
	defer func() {
		if r := recover(); r != nil {
			p = s.defaultFor(actor, org, scope)
		}
	}()

	s.mu.RLock()
	if scope != "" {
		if stored, ok := s.stored[key(actor, org, scope)]; ok {
			s.mu.RUnlock()
			return stored
		}
	}
	if stored, ok := s.stored[key(actor, org, "")]; ok {
		s.mu.RUnlock()
		stored.Scope = scope
		return stored
	}
	s.mu.RUnlock()

	if s.roles != nil {
		if role := s.roles.RoleOf(actor, org); role != "" {
			s.mu.RLock()
			level, ok := s.roleLevels[role]
			s.mu.RUnlock()
			if ok {
				tmpl := TemplateFor(level)
				tmpl.Actor = actor
				tmpl.Org = org
				tmpl.Scope = scope
				return tmpl
			}
		}
	}

	return s.defaultFor(actor, org, scope)
}

func (s *Store) defaultFor(actor, org, scope string) model.AutonomyPolicy {
	def := SystemDefault()
	def.Actor = actor
	def.Org = org
	def.Scope = scope
	return def
}

// Put stores a policy and invalidates cached entries for its actor+org.
func (s *Store) Put(p model.AutonomyPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stored[key(p.Actor, p.Org, p.Scope)] = p

	prefix := p.Actor + "|" + p.Org + "|"
	for k := range s.cache {
		if strings.HasPrefix(k, prefix) {
			delete(s.cache, k)
		}
	}
}

// Delete removes a stored policy and invalidates its actor+org cache slice.
func (s *Store) Delete(actor, org, scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.stored, key(actor, org, scope))

	prefix := actor + "|" + org + "|"
	for k := range s.cache {
		if strings.HasPrefix(k, prefix) {
			delete(s.cache, k)
		}
	}
}
