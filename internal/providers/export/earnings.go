package export

import (
	"bytes"
	"time"

	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	"github.com/xuri/excelize/v2"
)

const (
	earningsSheet = "Earnings"
	summarySheet  = "Summary"
)

var earningsHeader = []string{
	"Earning ID", "Purchase ID", "Level", "Earner", "Buyer",
	"Amount USD", "Rate %", "Status", "Paid At", "Transaction", "Created At",
}

// EarningsWorkbook renders earnings and their totals as an xlsx file.
func EarningsWorkbook(earnings []commissiondomain.Earning, summary commissiondomain.Summary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(earningsSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(earningsSheet, "A1", &earningsHeader); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(earningsHeader), 1)
	if err := f.SetCellStyle(earningsSheet, "A1", lastHeader, bold); err != nil {
		return nil, err
	}

	for i, e := range earnings {
		paidAt, txID := "", ""
		if e.PaidAt != nil {
			paidAt = e.PaidAt.UTC().Format(time.RFC3339)
		}
		if e.TransactionID != nil {
			txID = *e.TransactionID
		}
		row := []any{
			e.ID.String(), e.PurchaseID.String(), e.Level, e.EarnerUserID, e.BuyerUserID,
			e.AmountUSD.InexactFloat64(), e.RatePct.InexactFloat64(), string(e.PayoutStatus),
			paidAt, txID, e.CreatedAt.UTC().Format(time.RFC3339),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(earningsSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	totals := [][]any{
		{"Status", "Count", "Amount USD"},
		{"pending", summary.PendingCount, summary.PendingUSD.InexactFloat64()},
		{"paid", summary.PaidCount, summary.PaidUSD.InexactFloat64()},
		{"total", summary.PendingCount + summary.PaidCount, summary.TotalUSD.InexactFloat64()},
	}
	for i, row := range totals {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
