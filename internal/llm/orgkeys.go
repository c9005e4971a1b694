package llm

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dossier-io/dossier/internal/requestctx"
)

// KeySource resolves per-org provider API keys. Implemented by the
// secrets vault. A lookup miss must return an error; the caller falls
// back to the shared process key.
type KeySource interface {
	GetProviderKey(ctx context.Context, orgID, backend string) (string, error)
}

// OrgKeyInvoker resolves the calling org's own provider key before each
// invocation and delegates to a backend invoker built with that key. Orgs
// without a stored key fall back to the process-wide invoker.
type OrgKeyInvoker struct {
	backend  string
	keys     KeySource
	fallback Invoker
}

// NewOrgKeyInvoker wraps fallback with per-org key resolution from keys.
func NewOrgKeyInvoker(backend string, keys KeySource, fallback Invoker) *OrgKeyInvoker {
	return &OrgKeyInvoker{backend: backend, keys: keys, fallback: fallback}
}

// Name returns the backend identifier.
func (o *OrgKeyInvoker) Name() string {
	return o.backend
}

// Invoke resolves the org key from the request context and delegates.
func (o *OrgKeyInvoker) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResult, error) {
	return o.resolve(ctx).Invoke(ctx, req)
}

// EstimateCost delegates to the fallback invoker's pricing table.
func (o *OrgKeyInvoker) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return o.fallback.EstimateCost(model, inputTokens, outputTokens)
}

func (o *OrgKeyInvoker) resolve(ctx context.Context) Invoker {
	orgID := requestctx.OrgID(ctx)
	if orgID == "" || o.keys == nil {
		return o.fallback
	}
	key, err := o.keys.GetProviderKey(ctx, orgID, o.backend)
	if err != nil {
		log.Debug().Err(err).
			Str("org_id", orgID).
			Str("backend", o.backend).
			Msg("org_key_fallback")
		return o.fallback
	}
	if inv := NewInvokerWithKey(o.backend, key); inv != nil {
		return inv
	}
	return o.fallback
}
