// Package clients contains the per-rail payment builders. Each builder
// turns a selected payment requirement into a signed payment payload for
// its settlement rail.
package clients

import (
	"context"

	"github.com/blockrunai/blockrun-go/types"
)

// BuildOptions carries the envelope fields echoed into a signed payload.
type BuildOptions struct {
	// Resource is the guarded resource descriptor embedded in the payload.
	Resource *types.ResourceInfo

	// Extensions is an opaque passthrough map.
	Extensions map[string]interface{}
}

// PaymentBuilder produces a signed payment payload for one rail. The rail
// is fixed at construction time; a builder handed a requirement for a
// different rail fails with a WRONG_RAIL error instead of guessing.
type PaymentBuilder interface {
	// Network returns the rail this builder signs for.
	Network() types.Network

	// Build creates a fresh single-use signed payload for the requirement.
	Build(ctx context.Context, req *types.PaymentRequirement, opts BuildOptions) (*types.SignedPaymentPayload, error)
}
