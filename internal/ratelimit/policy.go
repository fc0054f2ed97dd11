package ratelimit

import "fmt"

// Caller roles recognized by admission control. Unauthenticated traffic and
// patients get the strictest ceilings; administrative roles the loosest.
const (
	RoleAnonymous = "anonymous"
	RolePatient   = "patient"
	RoleClinician = "clinician"
	RoleAdmin     = "admin"
)

// Identity describes the caller for key derivation. Principal is empty for
// unauthenticated requests, in which case the network origin is the key.
type Identity struct {
	Role      string
	Principal string
	RemoteIP  string
}

// Key derives the counter-store key: role:{role}:{principal} when
// authenticated, ip:{addr} otherwise.
func (id Identity) Key() string {
	if id.Principal != "" {
		return fmt.Sprintf("role:%s:%s", id.Role, id.Principal)
	}
	return "ip:" + id.RemoteIP
}

// Policies maps roles to bucket shapes. The zero-value role (anonymous)
// doubles as the fallback for unknown roles.
type Policies map[string]Policy

// For returns the policy for a role, falling back to the anonymous ceiling.
func (p Policies) For(role string) Policy {
	if pol, ok := p[role]; ok {
		return pol
	}
	return p[RoleAnonymous]
}

// DefaultPolicies are the shipped per-role ceilings. Capacity is the burst
// size; refill is sustained requests per second.
func DefaultPolicies() Policies {
	return Policies{
		RoleAnonymous: {Capacity: 20, RefillRate: 1},
		RolePatient:   {Capacity: 30, RefillRate: 2},
		RoleClinician: {Capacity: 100, RefillRate: 10},
		RoleAdmin:     {Capacity: 300, RefillRate: 50, FailOpen: true},
	}
}
