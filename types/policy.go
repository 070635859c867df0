package types

import "time"

// Policy is a pure-data caching preset selected per call. Selecting a policy
// has no side effect until it is passed into a manager operation.
//
// TTL is the logical freshness window. StaleTTL extends the physical
// retention beyond TTL when a stale-tolerant flag is set, so expired entries
// remain retrievable for revalidation; zero means "same as TTL".
type Policy struct {
	TTL                  time.Duration `json:"ttl"`
	StaleTTL             time.Duration `json:"stale_ttl"`
	StaleWhileRevalidate bool          `json:"stale_while_revalidate"`
	StaleIfError         bool          `json:"stale_if_error"`
	BackgroundRefresh    bool          `json:"background_refresh"`
	HardTTL              bool          `json:"hard_ttl"`
}

// Named presets, one per data class.
var (
	// PolicyStatic suits rarely-changing reference data.
	PolicyStatic = Policy{
		TTL:                  12 * time.Hour,
		StaleTTL:             12 * time.Hour,
		StaleWhileRevalidate: true,
		StaleIfError:         true,
		BackgroundRefresh:    true,
	}

	// PolicyDynamic suits frequently-changing listings.
	PolicyDynamic = Policy{
		TTL:                  time.Minute,
		StaleWhileRevalidate: true,
		StaleIfError:         true,
	}

	// PolicyUser is strict: user-scoped data is never served stale.
	PolicyUser = Policy{
		TTL: 5 * time.Minute,
	}

	// PolicyMicro is a very short strict window for request bursts.
	PolicyMicro = Policy{
		TTL: 5 * time.Second,
	}
)

// CustomPolicy builds a policy with an explicit TTL, strict by default.
func CustomPolicy(ttl time.Duration) Policy {
	return Policy{TTL: ttl}
}

// StaleTolerant reports whether expired entries may still be served.
func (p Policy) StaleTolerant() bool {
	return p.StaleWhileRevalidate || p.StaleIfError
}

// StorageTTL is the physical retention a tier should enforce for a freshness
// window of ttl under this policy.
func (p Policy) StorageTTL(ttl time.Duration) time.Duration {
	if !p.StaleTolerant() {
		return ttl
	}
	stale := p.StaleTTL
	if stale <= 0 {
		stale = p.TTL
	}
	return ttl + stale
}

func namedPolicies() map[string]Policy {
	return map[string]Policy{
		"static":  PolicyStatic,
		"dynamic": PolicyDynamic,
		"user":    PolicyUser,
		"micro":   PolicyMicro,
	}
}

// PolicyByName resolves a preset from its config name.
func PolicyByName(name string) (Policy, bool) {
	p, ok := namedPolicies()[name]
	return p, ok
}
