// Package policy implements the entitlement and policy gate that runs before
// any retrieval or model call: jurisdiction routing, per-jurisdiction
// entitlement checks (OPA), confidentiality resolution, and the pre-model
// guardrail that short-circuits prohibited query classes to a canned answer.
package policy

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// Error codes surfaced to calling UIs. Stable: rendered guidance keys on them.
const (
	CodeJurisdictionNotEntitled = "jurisdiction_not_entitled"
	CodeConsentRequired         = "consent_required"
	CodeCouncilOfEuropeRequired = "coe_disclosure_required"
	CodeMFARequired             = "mfa_verification_required"
	CodeIPNotAllowed            = "ip_not_allowed"
)

// ErrPolicyViolation is the sentinel all gate denials wrap.
var ErrPolicyViolation = errors.New("policy violation")

// ViolationError is a fatal gate denial. No model call, no persistence.
type ViolationError struct {
	Code    string
	Reasons []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("policy violation %s: %v", e.Code, e.Reasons)
}

func (e *ViolationError) Unwrap() error { return ErrPolicyViolation }

// Entitlement is a per-jurisdiction access grant.
type Entitlement struct {
	CanRead  bool `yaml:"can_read" json:"can_read"`
	CanWrite bool `yaml:"can_write" json:"can_write"`
}

// Flags are the org-level policy switches applied to every run.
type Flags struct {
	ConfidentialMode            bool `yaml:"confidential_mode" json:"confidential_mode"`
	FranceJudgeAnalyticsBlocked bool `yaml:"france_judge_analytics_blocked" json:"france_judge_analytics_blocked"`
	MFARequired                 bool `yaml:"mfa_required" json:"mfa_required"`
	IPAllowlistEnforced         bool `yaml:"ip_allowlist_enforced" json:"ip_allowlist_enforced"`
	ConsentRequirement          bool `yaml:"consent_requirement" json:"consent_requirement"`
	CouncilOfEuropeRequirement  bool `yaml:"council_of_europe_requirement" json:"council_of_europe_requirement"`
}

// AccessContext is the caller's resolved authorization state for one run.
// Supplied by the external authorization collaborator; immutable here.
type AccessContext struct {
	OrgID        string                 `yaml:"org_id" json:"org_id"`
	UserID       string                 `yaml:"user_id" json:"user_id"`
	Role         string                 `yaml:"role" json:"role"`
	Policy       Flags                  `yaml:"policy" json:"policy"`
	Entitlements map[string]Entitlement `yaml:"entitlements" json:"entitlements"`
	IPAllowlist  []string               `yaml:"ip_allowlist,omitempty" json:"ip_allowlist,omitempty"`
	ConsentOK    bool                   `yaml:"consent_ok" json:"consent_ok"`
	CoEOK        bool                   `yaml:"coe_ok" json:"coe_ok"`
	MFAOK        bool                   `yaml:"mfa_ok" json:"mfa_ok"`
}

// CanReadJurisdiction reports whether the context grants read access for a
// jurisdiction code.
func (a *AccessContext) CanReadJurisdiction(code string) bool {
	e, ok := a.Entitlements[code]
	return ok && e.CanRead
}

// Confidential resolves the effective confidentiality for a run: an explicit
// request opts in, and the org policy can force it regardless of the request.
func (a *AccessContext) Confidential(requested bool) bool {
	return requested || a.Policy.ConfidentialMode
}

// IPAllowed reports whether remoteAddr (host or host:port) falls inside the
// org's IP allowlist. Without IPAllowlistEnforced every address passes; an
// enforced allowlist with no CIDRs denies everything. Entries may be CIDRs
// or single addresses.
func (a *AccessContext) IPAllowed(remoteAddr string) bool {
	if !a.Policy.IPAllowlistEnforced {
		return true
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	for _, entry := range a.IPAllowlist {
		if prefix, err := netip.ParsePrefix(entry); err == nil && prefix.Contains(addr) {
			return true
		}
		if single, err := netip.ParseAddr(entry); err == nil && single == addr {
			return true
		}
	}
	return false
}
