package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway represents a connector to an external payment backend. It issues
// the authority token correlating a payment request with its callback.
type Gateway interface {
	Name() string
	RequestAuthority(ctx context.Context, amount decimal.Decimal) (string, error)
}

// StaticGateway simulates a gateway that approves every request with a
// synthetic authority token.
type StaticGateway struct {
	GatewayName string
}

// Name returns the configured gateway identifier.
func (g StaticGateway) Name() string {
	if g.GatewayName == "" {
		return "static"
	}
	return g.GatewayName
}

// RequestAuthority issues a synthetic authority token.
func (StaticGateway) RequestAuthority(_ context.Context, _ decimal.Decimal) (string, error) {
	return uuid.NewString(), nil
}
