package pdf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	payoutdomain "github.com/smallbiznis/profitledger/internal/payout/domain"
)

var ErrReceiptNotPaid = errors.New("receipt requires a paid payout request")

func (p *MarotoProvider) PayoutReceipt(ctx context.Context, receipt payoutdomain.Receipt) ([]byte, error) {
	req := receipt.Request
	if req.Status != payoutdomain.StatusPaid || req.PaidAt == nil {
		return nil, ErrReceiptNotPaid
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Referral payout receipt", props.Text{Size: 18, Style: fontstyle.Bold, Align: align.Left}),
		text.NewCol(4, "USD "+req.SettledUSD.StringFixed(2), props.Text{Size: 14, Style: fontstyle.Bold, Align: align.Right}),
	)

	txID := "-"
	if req.PayoutTxID != nil {
		txID = *req.PayoutTxID
	}
	m.AddRow(32,
		col.New(7).Add(
			text.New("Request: "+req.ID.String(), props.Text{Size: 9}),
			text.New("User: "+req.UserID, props.Text{Size: 9, Top: 5}),
			text.New("Wallet: "+req.WalletAddress, props.Text{Size: 9, Top: 10}),
			text.New("Transaction: "+txID, props.Text{Size: 9, Top: 15}),
		),
		col.New(5).Add(
			text.New("Requested: "+formatDate(req.RequestedAt), props.Text{Size: 9, Align: align.Right}),
			text.New("Paid: "+formatDate(*req.PaidAt), props.Text{Size: 9, Align: align.Right, Top: 5}),
			text.New("Requested amount: "+req.AmountUSD.StringFixed(2), props.Text{Size: 9, Align: align.Right, Top: 10}),
		),
	)

	header := props.Text{Style: fontstyle.Bold, Size: 9}
	right := props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}
	m.AddRow(10,
		text.NewCol(4, "Earning", header),
		text.NewCol(3, "Purchase", header),
		text.NewCol(1, "Level", right),
		text.NewCol(2, "Rate %", right),
		text.NewCol(2, "Amount", right),
	)
	for _, e := range receipt.Earnings {
		m.AddRow(8,
			text.NewCol(4, e.ID.String(), props.Text{Size: 8}),
			text.NewCol(3, e.PurchaseID.String(), props.Text{Size: 8}),
			text.NewCol(1, fmt.Sprintf("%d", e.Level), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, e.RatePct.StringFixed(2), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, e.AmountUSD.StringFixed(2), props.Text{Size: 8, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Settled", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, req.SettledUSD.StringFixed(2), props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}
