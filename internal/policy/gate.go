package policy

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dossierotel "github.com/dossier-io/dossier/internal/otel"
)

var tracer = dossierotel.Tracer("github.com/dossier-io/dossier/internal/policy")

//go:embed rego/*.rego
var embeddedPolicies embed.FS

// regoPolicy maps a Rego file to the OPA query used to extract its result.
type regoPolicy struct {
	file  string
	query string
}

var gatePolicies = []regoPolicy{
	{file: "rego/entitlements.rego", query: "data.dossier.policy.entitlements.deny"},
	{file: "rego/confidentiality.rego", query: "data.dossier.policy.confidentiality.web_search_budget"},
}

// Decision is the gate's verdict for one run.
type Decision struct {
	Allowed         bool     `json:"allowed"`
	Jurisdiction    string   `json:"jurisdiction"`
	Confidential    bool     `json:"confidential"`
	WebSearchBudget int      `json:"web_search_budget"`
	Reasons         []string `json:"reasons,omitempty"`
}

// Gate evaluates entitlements and confidentiality with precompiled Rego.
type Gate struct {
	router                 JurisdictionRouter
	prepared               map[string]rego.PreparedEvalQuery
	defaultWebSearchBudget int
	version                string
}

// NewGate compiles the embedded policies. router may be nil, in which case
// the keyword heuristic is used.
func NewGate(ctx context.Context, router JurisdictionRouter, defaultWebSearchBudget int) (*Gate, error) {
	ctx, span := tracer.Start(ctx, "policy.gate.new")
	defer span.End()

	if router == nil {
		router = KeywordRouter{}
	}
	if defaultWebSearchBudget <= 0 {
		defaultWebSearchBudget = 3
	}

	prepared := make(map[string]rego.PreparedEvalQuery, len(gatePolicies))
	bundleHash := sha256.New()
	for _, rp := range gatePolicies {
		content, err := embeddedPolicies.ReadFile(rp.file)
		if err != nil {
			return nil, fmt.Errorf("reading embedded policy %s: %w", rp.file, err)
		}
		bundleHash.Write(content)
		store := inmem.New()
		q, err := rego.New(
			rego.Query(rp.query),
			rego.Module(rp.file, string(content)),
			rego.Store(store),
		).PrepareForEval(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("preparing policy %s: %w", rp.file, err)
		}
		prepared[rp.query] = q
	}
	span.SetAttributes(attribute.Int("policy.prepared_count", len(prepared)))

	return &Gate{
		router:                 router,
		prepared:               prepared,
		defaultWebSearchBudget: defaultWebSearchBudget,
		version:                fmt.Sprintf("bundle-%x", bundleHash.Sum(nil)[:6]),
	}, nil
}

// Version identifies the embedded policy bundle. Runs are audited against it
// so a reviewer can tell which gate revision produced a given answer.
func (g *Gate) Version() string { return g.version }

// Evaluate routes the question to a jurisdiction and applies the entitlement
// and confidentiality policies. A denied decision carries the stable error
// codes in Reasons; Check wraps them as a ViolationError.
func (g *Gate) Evaluate(ctx context.Context, access *AccessContext, question string, confidentialRequested bool) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "policy.gate.evaluate",
		trace.WithAttributes(attribute.String("org_id", access.OrgID)))
	defer span.End()

	jurisdiction := g.router.Route(question)
	span.SetAttributes(attribute.String("policy.jurisdiction", jurisdiction))

	entInput := map[string]interface{}{
		"jurisdiction":     jurisdiction,
		"can_read":         access.CanReadJurisdiction(jurisdiction),
		"consent_required": access.Policy.ConsentRequirement,
		"consent_ok":       access.ConsentOK,
		"coe_required":     access.Policy.CouncilOfEuropeRequirement,
		"coe_ok":           access.CoEOK,
		"mfa_required":     access.Policy.MFARequired,
		"mfa_ok":           access.MFAOK,
	}
	reasons, err := g.evalDeny(ctx, gatePolicies[0].query, entInput)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("evaluating entitlements: %w", err)
	}

	confInput := map[string]interface{}{
		"requested":                 confidentialRequested,
		"org_enforced":              access.Policy.ConfidentialMode,
		"default_web_search_budget": g.defaultWebSearchBudget,
	}
	budget, err := g.evalInt(ctx, gatePolicies[1].query, confInput)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("evaluating confidentiality: %w", err)
	}

	d := &Decision{
		Allowed:         len(reasons) == 0,
		Jurisdiction:    jurisdiction,
		Confidential:    access.Confidential(confidentialRequested),
		WebSearchBudget: budget,
		Reasons:         reasons,
	}
	if !d.Allowed {
		span.SetStatus(codes.Error, "policy denied")
		span.SetAttributes(attribute.StringSlice("policy.deny_reasons", reasons))
	}
	return d, nil
}

// Check is Evaluate plus denial-to-error conversion. The first deny reason is
// the primary error code surfaced to the caller.
func (g *Gate) Check(ctx context.Context, access *AccessContext, question string, confidentialRequested bool) (*Decision, error) {
	d, err := g.Evaluate(ctx, access, question, confidentialRequested)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return d, &ViolationError{Code: d.Reasons[0], Reasons: d.Reasons}
	}
	return d, nil
}

func (g *Gate) evalDeny(ctx context.Context, query string, input map[string]interface{}) ([]string, error) {
	rs, err := g.prepared[query].Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}
	var reasons []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range set {
				if s, ok := v.(string); ok {
					reasons = append(reasons, s)
				}
			}
		}
	}
	return reasons, nil
}

func (g *Gate) evalInt(ctx context.Context, query string, input map[string]interface{}) (int, error) {
	rs, err := g.prepared[query].Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return 0, err
	}
	for _, result := range rs {
		for _, expr := range result.Expressions {
			switch v := expr.Value.(type) {
			case json.Number:
				n, err := v.Int64()
				if err != nil {
					return 0, fmt.Errorf("query %s returned non-integer %q", query, v)
				}
				return int(n), nil
			case float64:
				return int(v), nil
			case int:
				return v, nil
			}
		}
	}
	return 0, fmt.Errorf("query %s returned no numeric result", query)
}
