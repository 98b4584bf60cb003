package model

import "time"

type ScopeKind int

const (
	TenantScope ScopeKind = iota
	ProviderScope
)

func (k ScopeKind) String() string {
	switch k {
	case TenantScope:
		return "tenant"
	case ProviderScope:
		return "provider"
	}
	return "unknown"
}

// BlockScope says who a block applies to: the whole tenant, or one provider.
type BlockScope struct {
	Kind       ScopeKind
	ProviderID string
}

func TenantWide() BlockScope {
	return BlockScope{Kind: TenantScope}
}

func ForProvider(providerID string) BlockScope {
	return BlockScope{Kind: ProviderScope, ProviderID: providerID}
}

type AvailabilityBlock struct {
	ID        string
	TenantID  string
	Scope     BlockScope
	Start     time.Time
	End       time.Time
	Reason    string
	CreatedAt time.Time
}

// BusyInterval comes live from an external calendar and is never stored.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// Overlaps is the half-open interval test; touching endpoints do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}
