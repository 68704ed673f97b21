package pdf

import (
	"context"

	payoutdomain "github.com/smallbiznis/profitledger/internal/payout/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

type Provider interface {
	PayoutReceipt(ctx context.Context, receipt payoutdomain.Receipt) ([]byte, error)
}

type MarotoProvider struct{}

func New() Provider {
	return &MarotoProvider{}
}
