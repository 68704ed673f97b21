package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	"github.com/smallbiznis/profitledger/internal/audit/repository"
	"github.com/smallbiznis/profitledger/internal/auditcontext"
	"github.com/smallbiznis/profitledger/internal/clock"
	"github.com/smallbiznis/profitledger/pkg/db"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()

	conn, err := db.NewTest(t.Name(), &auditdomain.Entry{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, conn
}

func TestRecordUsesContextActorAndRequest(t *testing.T) {
	svc, conn := newTestService(t)

	ctx := auditcontext.WithActor(context.Background(), "admin", "adm_1")
	ctx = auditcontext.WithRequestID(ctx, "req-1")

	err := svc.Record(ctx, nil, auditdomain.RecordRequest{
		ActionType: auditdomain.ActionCouponStatus,
		EntityType: auditdomain.EntityCoupon,
		EntityID:   "42",
		Reason:     "abuse",
		Details:    map[string]any{"status": "disabled"},
	})
	require.NoError(t, err)

	var entry auditdomain.Entry
	require.NoError(t, conn.First(&entry).Error)
	require.Equal(t, "adm_1", entry.AdminID)
	require.NotNil(t, entry.RequestID)
	require.Equal(t, "req-1", *entry.RequestID)
	require.Equal(t, "disabled", entry.Details["status"])
}

func TestRecordRollsBackWithCallerTransaction(t *testing.T) {
	svc, conn := newTestService(t)
	boom := errors.New("boom")

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Record(context.Background(), tx, auditdomain.RecordRequest{
			AdminID:    "adm_1",
			ActionType: auditdomain.ActionPayoutApprove,
			EntityType: auditdomain.EntityPayoutRequest,
			EntityID:   "7",
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&auditdomain.Entry{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRecordValidation(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Record(context.Background(), nil, auditdomain.RecordRequest{ActionType: "x", EntityType: "coupon", EntityID: "1"})
	require.ErrorIs(t, err, auditdomain.ErrInvalidAdmin)

	err = svc.Record(context.Background(), nil, auditdomain.RecordRequest{AdminID: "a", EntityType: "coupon", EntityID: "1"})
	require.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(ctx, nil, auditdomain.RecordRequest{
			AdminID:    "adm_1",
			ActionType: auditdomain.ActionEarningMarkPaid,
			EntityType: auditdomain.EntityEarning,
			EntityID:   "e",
		}))
	}

	first, err := svc.List(ctx, auditdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, first.Entries, 5)

	page, err := svc.List(ctx, auditdomain.ListRequest{})
	require.NoError(t, err)
	require.False(t, page.HasMore)

	req := auditdomain.ListRequest{}
	req.PageSize = 2
	page1, err := svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, page1.Entries, 2)
	require.True(t, page1.HasMore)
	require.True(t, page1.Entries[0].ID > page1.Entries[1].ID)

	req.PageToken = page1.NextPageToken
	page2, err := svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, page2.Entries, 2)
	require.True(t, page2.Entries[0].ID < page1.Entries[1].ID)

	_, err = svc.List(ctx, auditdomain.ListRequest{Pagination: paginationToken("garbage")})
	require.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

func paginationToken(token string) pagination.Pagination {
	return pagination.Pagination{PageToken: token}
}
