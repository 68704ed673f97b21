package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	"github.com/smallbiznis/profitledger/internal/clock"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	"github.com/smallbiznis/profitledger/internal/commission/engine"
	"github.com/smallbiznis/profitledger/internal/events"
	obsmetrics "github.com/smallbiznis/profitledger/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/profitledger/internal/purchase/domain"
	referraldomain "github.com/smallbiznis/profitledger/internal/referral/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         commissiondomain.Repository
	PurchaseRepo purchasedomain.Repository
	ReferralSvc  referraldomain.Service
	AuditSvc     auditdomain.Service
	Events       events.Publisher    `optional:"true"`
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         commissiondomain.Repository
	purchaseRepo purchasedomain.Repository
	referralSvc  referraldomain.Service
	auditSvc     auditdomain.Service
	events       events.Publisher
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) commissiondomain.Service {
	publisher := p.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("commission.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		purchaseRepo: p.PurchaseRepo,
		referralSvc:  p.ReferralSvc,
		auditSvc:     p.AuditSvc,
		events:       publisher,
		metrics:      p.Metrics,
	}
}

func (s *Service) DistributeTx(ctx context.Context, tx *gorm.DB, purchase purchasedomain.EligiblePurchase) (commissiondomain.DistributionResult, error) {
	now := s.clock.Now()
	claimed, err := s.purchaseRepo.MarkProcessed(ctx, tx, purchase.ID, now)
	if err != nil {
		return commissiondomain.DistributionResult{}, err
	}
	if !claimed {
		existing, err := s.repo.ListByPurchase(ctx, tx, purchase.ID)
		if err != nil {
			return commissiondomain.DistributionResult{}, err
		}
		s.log.Debug("purchase already distributed", zap.String("purchase_id", purchase.ID.String()))
		return summarize(purchase, existing, true), nil
	}

	upline, err := s.referralSvc.ResolveUpline(ctx, tx, purchase.UserID)
	if err != nil {
		return commissiondomain.DistributionResult{}, err
	}

	dist := engine.Compute(purchase.AmountUSD, upline)
	rows := make([]*commissiondomain.Earning, 0, len(dist.Shares))
	for _, share := range dist.Shares {
		rows = append(rows, &commissiondomain.Earning{
			ID:           s.genID.Generate(),
			PurchaseID:   purchase.ID,
			Level:        share.Level,
			EarnerUserID: share.EarnerID,
			BuyerUserID:  purchase.UserID,
			AmountUSD:    share.AmountUSD,
			RatePct:      share.RatePct(),
			PayoutStatus: commissiondomain.PayoutPending,
			CreatedAt:    now,
		})
	}
	if err := s.repo.InsertEarnings(ctx, tx, rows); err != nil {
		return commissiondomain.DistributionResult{}, err
	}

	return summarize(purchase, rows, false), nil
}

func (s *Service) Distribute(ctx context.Context, req commissiondomain.DistributeRequest) (commissiondomain.DistributionResult, error) {
	purchaseID, err := snowflake.ParseString(strings.TrimSpace(req.PurchaseID))
	if err != nil || purchaseID <= 0 {
		return commissiondomain.DistributionResult{}, commissiondomain.ErrInvalidPurchaseID
	}

	var (
		purchase purchasedomain.EligiblePurchase
		result   commissiondomain.DistributionResult
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.purchaseRepo.FindByID(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if found == nil {
			return commissiondomain.ErrPurchaseNotFound
		}
		purchase = *found

		result, err = s.DistributeTx(ctx, tx, purchase)
		if err != nil {
			return err
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			AdminID:    req.AdminID,
			ActionType: auditdomain.ActionCommissionRedistrib,
			EntityType: auditdomain.EntityPurchase,
			EntityID:   purchase.ID.String(),
			Reason:     req.Reason,
			Details: map[string]any{
				"already_processed": result.AlreadyProcessed,
				"earnings":          len(result.Earnings),
				"distributed_usd":   result.DistributedUSD.StringFixed(2),
			},
		})
	})
	if err != nil {
		return commissiondomain.DistributionResult{}, err
	}

	if !result.AlreadyProcessed {
		s.PublishDistributed(ctx, purchase, result)
	}
	return result, nil
}

func (s *Service) PublishDistributed(ctx context.Context, purchase purchasedomain.EligiblePurchase, result commissiondomain.DistributionResult) {
	if result.AlreadyProcessed {
		return
	}
	for _, earning := range result.Earnings {
		s.metrics.RecordCommission(earning.Level, earning.AmountUSD.InexactFloat64())
	}

	levels := make([]map[string]any, 0, len(result.Earnings))
	for _, earning := range result.Earnings {
		levels = append(levels, map[string]any{
			"level":          earning.Level,
			"earner_user_id": earning.EarnerUserID,
			"amount_usd":     earning.AmountUSD.StringFixed(2),
		})
	}
	events.Emit(ctx, s.events, s.log, events.Event{
		Type:       events.TypeCommissionDistributed,
		OccurredAt: s.clock.Now(),
		Payload: map[string]any{
			"purchase_id":     purchase.ID.String(),
			"buyer_user_id":   purchase.UserID,
			"pool_usd":        result.PoolUSD.StringFixed(2),
			"distributed_usd": result.DistributedUSD.StringFixed(2),
			"retained_usd":    result.RetainedUSD.StringFixed(2),
			"levels":          levels,
		},
	})

	s.log.Info("commission distributed",
		zap.String("purchase_id", purchase.ID.String()),
		zap.Int("levels", len(result.Earnings)),
		zap.String("distributed_usd", result.DistributedUSD.StringFixed(2)),
	)
}

func (s *Service) List(ctx context.Context, req commissiondomain.ListRequest) (commissiondomain.ListResponse, error) {
	filter := commissiondomain.ListFilter{EarnerUserID: strings.TrimSpace(req.EarnerUserID)}

	switch status := commissiondomain.PayoutStatus(strings.TrimSpace(req.Status)); status {
	case "", commissiondomain.PayoutPending, commissiondomain.PayoutPaid:
		filter.Status = status
	default:
		return commissiondomain.ListResponse{}, commissiondomain.ErrInvalidStatus
	}
	if raw := strings.TrimSpace(req.PurchaseID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return commissiondomain.ListResponse{}, commissiondomain.ErrInvalidPurchaseID
		}
		filter.PurchaseID = id
	}

	summary, err := s.repo.Summarize(ctx, s.db, filter)
	if err != nil {
		return commissiondomain.ListResponse{}, err
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return commissiondomain.ListResponse{}, commissiondomain.ErrInvalidPageToken
		}
		if filter.BeforeID, err = snowflake.ParseString(cursor.ID); err != nil {
			return commissiondomain.ListResponse{}, commissiondomain.ErrInvalidPageToken
		}
	}
	filter.Limit = req.Limit()

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return commissiondomain.ListResponse{}, err
	}
	items, pageInfo := pagination.Page(items, filter.Limit, func(e *commissiondomain.Earning) string { return e.ID.String() })

	earnings := make([]commissiondomain.Earning, 0, len(items))
	for _, item := range items {
		earnings = append(earnings, *item)
	}
	return commissiondomain.ListResponse{PageInfo: pageInfo, Earnings: earnings, Summary: summary}, nil
}

func (s *Service) Summary(ctx context.Context, earnerUserID string) (commissiondomain.Summary, error) {
	return s.repo.Summarize(ctx, s.db, commissiondomain.ListFilter{EarnerUserID: strings.TrimSpace(earnerUserID)})
}

func summarize(purchase purchasedomain.EligiblePurchase, rows []*commissiondomain.Earning, already bool) commissiondomain.DistributionResult {
	result := commissiondomain.DistributionResult{
		PurchaseID:       purchase.ID,
		AlreadyProcessed: already,
		PoolUSD:          engine.Pool(purchase.AmountUSD).Round(2),
		DistributedUSD:   decimal.Zero,
		Earnings:         make([]commissiondomain.Earning, 0, len(rows)),
	}
	for _, row := range rows {
		result.Earnings = append(result.Earnings, *row)
		result.DistributedUSD = result.DistributedUSD.Add(row.AmountUSD)
	}
	result.RetainedUSD = purchase.AmountUSD.Round(2).Sub(result.DistributedUSD)
	return result
}
