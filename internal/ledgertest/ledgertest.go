// Package ledgertest wires the shared fixtures used by service tests: an
// in-memory database with every ledger table, a fake clock and a real audit trail.
package ledgertest

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/profitledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/profitledger/internal/audit/service"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	"github.com/smallbiznis/profitledger/internal/clock"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	coupondomain "github.com/smallbiznis/profitledger/internal/coupon/domain"
	entitlementdomain "github.com/smallbiznis/profitledger/internal/entitlement/domain"
	payoutdomain "github.com/smallbiznis/profitledger/internal/payout/domain"
	purchasedomain "github.com/smallbiznis/profitledger/internal/purchase/domain"
	referraldomain "github.com/smallbiznis/profitledger/internal/referral/domain"
	userdiscountdomain "github.com/smallbiznis/profitledger/internal/userdiscount/domain"
	"github.com/smallbiznis/profitledger/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type Fixture struct {
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock *clock.FakeClock
	Audit auditdomain.Service
}

func New(t testing.TB) *Fixture {
	t.Helper()

	conn, err := db.NewTest(t.Name(),
		&auditdomain.Entry{},
		&catalogdomain.PackageSetting{},
		&entitlementdomain.Entitlement{},
		&coupondomain.Coupon{},
		&coupondomain.Redemption{},
		&userdiscountdomain.UserDiscount{},
		&referraldomain.Account{},
		&purchasedomain.EligiblePurchase{},
		&commissiondomain.Earning{},
		&payoutdomain.PayoutRequest{},
	)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	fx := &Fixture{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(Epoch),
	}
	fx.Audit = auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   fx.Log,
		GenID: node,
		Clock: fx.Clock,
		Repo:  auditrepo.Provide(),
	})
	return fx
}

// AuditCount returns how many audit rows exist for the given action.
func (f *Fixture) AuditCount(t testing.TB, action string) int64 {
	t.Helper()
	var count int64
	if err := f.DB.Model(&auditdomain.Entry{}).Where("action_type = ?", action).Count(&count).Error; err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	return count
}
