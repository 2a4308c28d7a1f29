package model

import (
	"sort"
	"time"
)

// Lead is a property-owner record owned by the lead CRUD subsystem. The
// engine only reads ID and Address and writes back the contact projection.
type Lead struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ProviderTier identifies a provider's position in the lookup chain.
type ProviderTier string

const (
	TierPrimary   ProviderTier = "primary"
	TierSecondary ProviderTier = "secondary"
	TierFree      ProviderTier = "free"
)

// Valid reports whether t is one of the known tiers.
func (t ProviderTier) Valid() bool {
	switch t {
	case TierPrimary, TierSecondary, TierFree:
		return true
	}
	return false
}

// Phone is a single phone number returned by a provider.
type Phone struct {
	Number      string  `json:"number"`
	Type        string  `json:"type,omitempty"` // mobile, landline, voip
	Confidence  float64 `json:"confidence"`
	IsDNC       bool    `json:"is_dnc"`
	IsLitigator bool    `json:"is_litigator"`
}

// Email is a single email address returned by a provider.
type Email struct {
	Address    string  `json:"address"`
	Confidence float64 `json:"confidence"`
}

// EnrichmentResult is the ledger's current record for a lead. At most one
// exists per lead; a successful re-trace replaces it.
type EnrichmentResult struct {
	LeadID       string       `json:"lead_id"`
	Phones       []Phone      `json:"phones"`
	Emails       []Email      `json:"emails"`
	Provider     ProviderTier `json:"provider"`
	ProviderName string       `json:"provider_name"`
	CostCents    int64        `json:"cost_cents"`
	Cached       bool         `json:"cached"`
	ResolvedAt   time.Time    `json:"resolved_at"`
}

// HasPhone reports whether the result carries at least one phone number.
func (r *EnrichmentResult) HasPhone() bool { return r != nil && len(r.Phones) > 0 }

// HasEmail reports whether the result carries at least one email address.
func (r *EnrichmentResult) HasEmail() bool { return r != nil && len(r.Emails) > 0 }

// BestPhone picks the number to project onto the lead: callable numbers
// (not DNC, not a known litigator) first, then highest confidence.
func (r *EnrichmentResult) BestPhone() string {
	if !r.HasPhone() {
		return ""
	}
	phones := make([]Phone, len(r.Phones))
	copy(phones, r.Phones)
	sort.SliceStable(phones, func(i, j int) bool {
		ci, cj := phones[i].callable(), phones[j].callable()
		if ci != cj {
			return ci
		}
		return phones[i].Confidence > phones[j].Confidence
	})
	return phones[0].Number
}

// BestEmail returns the highest-confidence email address.
func (r *EnrichmentResult) BestEmail() string {
	if !r.HasEmail() {
		return ""
	}
	best := r.Emails[0]
	for _, e := range r.Emails[1:] {
		if e.Confidence > best.Confidence {
			best = e
		}
	}
	return best.Address
}

func (p Phone) callable() bool { return !p.IsDNC && !p.IsLitigator }
