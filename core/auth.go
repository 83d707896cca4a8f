package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// AccessRuleNodeKind distinguishes the leaf and combinator shapes an access
// rule tree can take (spec.md §4.5 "Auth").
type AccessRuleNodeKind uint8

const (
	RuleRequireProof AccessRuleNodeKind = iota
	RuleAllOf
	RuleAnyOf
	RuleAllowAll
	RuleDenyAll
)

// AccessRule is a boolean expression over resource/non-fungible proofs that
// the current auth zone stack must satisfy.
type AccessRule struct {
	Kind     AccessRuleNodeKind
	Resource NodeID   // meaningful for RuleRequireProof
	Children []AccessRule
}

func RequireProof(resource NodeID) AccessRule {
	return AccessRule{Kind: RuleRequireProof, Resource: resource}
}
func AllOf(children ...AccessRule) AccessRule { return AccessRule{Kind: RuleAllOf, Children: children} }
func AnyOf(children ...AccessRule) AccessRule { return AccessRule{Kind: RuleAnyOf, Children: children} }
func AllowAll() AccessRule                    { return AccessRule{Kind: RuleAllowAll} }
func DenyAll() AccessRule                     { return AccessRule{Kind: RuleDenyAll} }

// RoleAssignment is a node's role-assignment module partition: named roles,
// each bound to an access rule, plus the "owner" role mutator rule
// (spec.md §4.5).
type RoleAssignment struct {
	mu    sync.RWMutex
	rules map[string]AccessRule
}

const (
	MaxRoleNameLen = 64

	RoleOwner = "_owner_"
	RoleSelf  = "_self_"
)

var reservedRoles = map[string]bool{RoleOwner: true, RoleSelf: true}

func NewRoleAssignment() *RoleAssignment {
	return &RoleAssignment{rules: make(map[string]AccessRule)}
}

// Define installs rule under name. Names longer than MaxRoleNameLen or
// colliding with a reserved role are rejected (spec.md §4.5 edge cases).
func (ra *RoleAssignment) Define(name string, rule AccessRule, allowReserved bool) error {
	if len(name) > MaxRoleNameLen {
		return ErrRoleAssignmentNameLen()
	}
	if reservedRoles[name] && !allowReserved {
		return ErrRoleAssignmentReservedRole()
	}
	ra.mu.Lock()
	defer ra.mu.Unlock()
	ra.rules[name] = rule
	return nil
}

func (ra *RoleAssignment) Lookup(name string) (AccessRule, bool) {
	ra.mu.RLock()
	defer ra.mu.RUnlock()
	r, ok := ra.rules[name]
	return r, ok
}

// AuthZoneStack is the frame-scoped stack of proof collections pushed by
// AuthZone.Push / popped on method return (spec.md §4.5, §5.5 AuthZone).
// Barrier frames (new packages) stop a downward rule scan; non-barrier
// frames (same-package methods) let it continue to the caller's proofs.
type AuthZoneStack struct {
	zones []*authZoneLevel
}

type authZoneLevel struct {
	proofs  map[NodeID]bool // proof node id -> present
	barrier bool
}

func NewAuthZoneStack() *AuthZoneStack { return &AuthZoneStack{} }

func (s *AuthZoneStack) Push(barrier bool) {
	s.zones = append(s.zones, &authZoneLevel{proofs: make(map[NodeID]bool), barrier: barrier})
}

func (s *AuthZoneStack) Pop() {
	if len(s.zones) == 0 {
		return
	}
	s.zones = s.zones[:len(s.zones)-1]
}

func (s *AuthZoneStack) AddProof(proof NodeID) {
	if len(s.zones) == 0 {
		s.Push(false)
	}
	s.zones[len(s.zones)-1].proofs[proof] = true
}

// satisfiesResource reports whether any proof visible from the top of the
// stack down to (and including) the nearest barrier authorizes resource.
// Visibility here is a stand-in for matching a proof's backing resource
// address; the transaction processor is responsible for creating proofs
// whose node id already encodes the resource they were cloned from.
func (s *AuthZoneStack) satisfiesResource(resource NodeID, resourceOf func(proof NodeID) NodeID) bool {
	for i := len(s.zones) - 1; i >= 0; i-- {
		level := s.zones[i]
		for proof := range level.proofs {
			if resourceOf(proof) == resource {
				return true
			}
		}
		if level.barrier {
			break
		}
	}
	return false
}

// Evaluate walks rule against the current zone stack (spec.md §4.5).
func (s *AuthZoneStack) Evaluate(rule AccessRule, resourceOf func(proof NodeID) NodeID) bool {
	switch rule.Kind {
	case RuleAllowAll:
		return true
	case RuleDenyAll:
		return false
	case RuleRequireProof:
		return s.satisfiesResource(rule.Resource, resourceOf)
	case RuleAllOf:
		for _, c := range rule.Children {
			if !s.Evaluate(c, resourceOf) {
				return false
			}
		}
		return true
	case RuleAnyOf:
		for _, c := range rule.Children {
			if s.Evaluate(c, resourceOf) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// AuthModule implements the auth half of KernelCallback.BeforePushFrame: it
// resolves which role a method invocation requires, looks up that role's
// access rule on the receiver's role-assignment partition, and evaluates it
// against the current frame's auth zone stack (spec.md §4.5).
type AuthModule struct {
	mu         sync.Mutex
	zones      map[int]*AuthZoneStack // keyed by call-frame depth
	roles      map[NodeID]*RoleAssignment
	resourceOf func(proof NodeID) NodeID

	log *logrus.Entry
}

func NewAuthModule(resourceOf func(NodeID) NodeID, log *logrus.Entry) *AuthModule {
	return &AuthModule{
		zones:      make(map[int]*AuthZoneStack),
		roles:      make(map[NodeID]*RoleAssignment),
		resourceOf: resourceOf,
		log:        log,
	}
}

// RegisterRoles attaches a node's role-assignment module so future method
// calls against it can be authorized.
func (a *AuthModule) RegisterRoles(node NodeID, ra *RoleAssignment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roles[node] = ra
}

// ZoneFor returns (creating if necessary) the auth zone stack for a given
// frame depth, so native AuthZone blueprint calls can push/pop/add proofs.
func (a *AuthModule) ZoneFor(depth int) *AuthZoneStack {
	a.mu.Lock()
	defer a.mu.Unlock()
	z, ok := a.zones[depth]
	if !ok {
		z = NewAuthZoneStack()
		a.zones[depth] = z
	}
	return z
}

// Authorize checks whether the invocation described by actor, against a
// method requiring roleName on receiver, is permitted given the caller's
// (parentDepth) auth zone stack. It returns ErrUnauthorized on failure.
func (a *AuthModule) Authorize(receiver NodeID, roleName string, parentDepth int) error {
	a.mu.Lock()
	ra, ok := a.roles[receiver]
	a.mu.Unlock()
	if !ok {
		// No role-assignment module attached: the blueprint declared no
		// auth requirements, so the call is implicitly allowed.
		return nil
	}
	rule, ok := ra.Lookup(roleName)
	if !ok {
		return ErrUnauthorized(receiver.String(), roleName)
	}
	zone := a.ZoneFor(parentDepth)
	if !zone.Evaluate(rule, a.resourceOf) {
		return ErrUnauthorized(receiver.String(), roleName)
	}
	return nil
}
