package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Capability names a privileged action an official may be granted.
type Capability string

const (
	CapManageOfficials  Capability = "manage_officials"
	CapAuditBusinesses  Capability = "audit_businesses"
	CapVerifyInvoices   Capability = "verify_invoices"
	CapGenerateReports  Capability = "generate_reports"
	CapConfigureSystem  Capability = "configure_system"
	CapViewBusinesses   Capability = "view_businesses"
	CapViewTransactions Capability = "view_transactions"
	CapViewReports      Capability = "view_reports"
	CapIssuePenalties   Capability = "issue_penalties"
)

// AllCapabilities lists every capability in a stable order.
var AllCapabilities = []Capability{
	CapManageOfficials,
	CapAuditBusinesses,
	CapVerifyInvoices,
	CapGenerateReports,
	CapConfigureSystem,
	CapViewBusinesses,
	CapViewTransactions,
	CapViewReports,
	CapIssuePenalties,
}

// ParseCapability validates a capability name.
func ParseCapability(name string) (Capability, error) {
	c := Capability(strings.TrimSpace(strings.ToLower(name)))
	for _, known := range AllCapabilities {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown capability %q", ErrValidation, name)
}

// Grants are the per-official boolean capability columns.
type Grants struct {
	ManageOfficials  bool `json:"manage_officials"`
	AuditBusinesses  bool `json:"audit_businesses"`
	VerifyInvoices   bool `json:"verify_invoices"`
	GenerateReports  bool `json:"generate_reports"`
	ConfigureSystem  bool `json:"configure_system"`
	ViewBusinesses   bool `json:"view_businesses"`
	ViewTransactions bool `json:"view_transactions"`
	ViewReports      bool `json:"view_reports"`
	IssuePenalties   bool `json:"issue_penalties"`
}

func (g *Grants) field(c Capability) *bool {
	switch c {
	case CapManageOfficials:
		return &g.ManageOfficials
	case CapAuditBusinesses:
		return &g.AuditBusinesses
	case CapVerifyInvoices:
		return &g.VerifyInvoices
	case CapGenerateReports:
		return &g.GenerateReports
	case CapConfigureSystem:
		return &g.ConfigureSystem
	case CapViewBusinesses:
		return &g.ViewBusinesses
	case CapViewTransactions:
		return &g.ViewTransactions
	case CapViewReports:
		return &g.ViewReports
	case CapIssuePenalties:
		return &g.IssuePenalties
	}
	return nil
}

// Has reports whether the grant column for c is set.
func (g Grants) Has(c Capability) bool {
	if f := g.field(c); f != nil {
		return *f
	}
	return false
}

// Set flips a single grant column. Unknown capabilities are ignored.
func (g *Grants) Set(c Capability, on bool) {
	if f := g.field(c); f != nil {
		*f = on
	}
}

// Apply returns a copy of g with every entry of changes applied.
func (g Grants) Apply(changes map[Capability]bool) Grants {
	out := g
	for c, on := range changes {
		out.Set(c, on)
	}
	return out
}

// CapabilitySet is the resolved permission set of an official.
type CapabilitySet map[Capability]struct{}

// Has reports membership.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities sorted by name.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// Resolve computes the capability set of an official. Super-admins hold every
// capability; everyone else holds exactly their direct grants. Rank is ignored.
func Resolve(o Official) CapabilitySet {
	set := make(CapabilitySet, len(AllCapabilities))
	for _, c := range AllCapabilities {
		if o.IsSuperAdmin || o.Grants.Has(c) {
			set[c] = struct{}{}
		}
	}
	return set
}

// Authorize reports whether o may exercise capability c.
func Authorize(o Official, c Capability) bool {
	if o.IsSuperAdmin {
		return true
	}
	return o.Grants.Has(c)
}

// RequireCapability returns ErrUnauthorized unless o holds c.
func RequireCapability(o Official, c Capability) error {
	if !Authorize(o, c) {
		return fmt.Errorf("%w: %s required", ErrUnauthorized, c)
	}
	return nil
}

// RequireSuperAdmin returns ErrUnauthorized unless o is a super-admin.
func RequireSuperAdmin(o Official) error {
	if !o.IsSuperAdmin {
		return fmt.Errorf("%w: super-admin required", ErrUnauthorized)
	}
	return nil
}
