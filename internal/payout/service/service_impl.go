package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	"github.com/smallbiznis/profitledger/internal/clock"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	"github.com/smallbiznis/profitledger/internal/events"
	obsmetrics "github.com/smallbiznis/profitledger/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/profitledger/internal/payout/domain"
	referraldomain "github.com/smallbiznis/profitledger/internal/referral/domain"
	"github.com/smallbiznis/profitledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxWalletAddressLength = 128

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         payoutdomain.Repository
	EarningRepo  commissiondomain.Repository
	ReferralRepo referraldomain.Repository
	AuditSvc     auditdomain.Service
	Events       events.Publisher    `optional:"true"`
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         payoutdomain.Repository
	earningRepo  commissiondomain.Repository
	referralRepo referraldomain.Repository
	auditSvc     auditdomain.Service
	events       events.Publisher
	metrics      *obsmetrics.Metrics
}

func NewService(p Params) payoutdomain.Service {
	publisher := p.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payout.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		earningRepo:  p.EarningRepo,
		referralRepo: p.ReferralRepo,
		auditSvc:     p.AuditSvc,
		events:       publisher,
		metrics:      p.Metrics,
	}
}

func (s *Service) MarkEarningPaid(ctx context.Context, req payoutdomain.MarkEarningPaidRequest) (commissiondomain.Earning, error) {
	earningID, err := snowflake.ParseString(strings.TrimSpace(req.EarningID))
	if err != nil || earningID <= 0 {
		return commissiondomain.Earning{}, payoutdomain.ErrInvalidEarningID
	}
	txID := optional(req.TransactionID)

	var (
		earning commissiondomain.Earning
		changed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.loadEarning(ctx, tx, earningID)
		if err != nil {
			return err
		}
		if current.PayoutStatus == commissiondomain.PayoutPaid {
			earning = *current
			return nil
		}

		now := s.clock.Now()
		if _, err := s.referralRepo.Touch(ctx, tx, current.EarnerUserID, now); err != nil {
			return err
		}
		n, err := s.earningRepo.MarkPaid(ctx, tx, []snowflake.ID{earningID}, commissiondomain.PaidUpdate{
			PaidAt:        now,
			TransactionID: txID,
		})
		if err != nil {
			return err
		}
		changed = n == 1

		updated, err := s.loadEarning(ctx, tx, earningID)
		if err != nil {
			return err
		}
		earning = *updated
		if !changed {
			return nil
		}

		details := map[string]any{
			"earner_user_id": earning.EarnerUserID,
			"amount_usd":     earning.AmountUSD.StringFixed(2),
			"level":          earning.Level,
		}
		if txID != nil {
			details["transaction_id"] = *txID
		}
		return s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			AdminID:    req.AdminID,
			ActionType: auditdomain.ActionEarningMarkPaid,
			EntityType: auditdomain.EntityEarning,
			EntityID:   earning.ID.String(),
			Reason:     req.Reason,
			Details:    details,
		})
	})
	if err != nil {
		return commissiondomain.Earning{}, err
	}

	if changed {
		events.Emit(ctx, s.events, s.log, events.Event{
			Type:       events.TypeReferralEarningPaid,
			OccurredAt: s.clock.Now(),
			Payload: map[string]any{
				"earning_id":     earning.ID.String(),
				"earner_user_id": earning.EarnerUserID,
				"amount_usd":     earning.AmountUSD.StringFixed(2),
			},
		})
		s.log.Info("referral earning marked paid", zap.String("earning_id", earning.ID.String()))
	}
	return earning, nil
}

func (s *Service) Create(ctx context.Context, req payoutdomain.CreateRequest) (payoutdomain.PayoutRequest, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return payoutdomain.PayoutRequest{}, payoutdomain.ErrInvalidUserID
	}
	amount := req.AmountUSD
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return payoutdomain.PayoutRequest{}, payoutdomain.ErrInvalidAmount
	}
	wallet := strings.TrimSpace(req.WalletAddress)
	if wallet == "" || len(wallet) > maxWalletAddressLength || strings.ContainsAny(wallet, " \t\r\n") {
		return payoutdomain.PayoutRequest{}, payoutdomain.ErrInvalidWallet
	}

	now := s.clock.Now()
	request := payoutdomain.PayoutRequest{
		ID:            s.genID.Generate(),
		UserID:        userID,
		AmountUSD:     amount,
		SettledUSD:    decimal.Zero,
		Status:        payoutdomain.StatusPending,
		WalletAddress: wallet,
		RequestedAt:   now,
		UpdatedAt:     now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Requests for the same user queue on the account row, so two
		// concurrent requests cannot both claim the same pending balance.
		ok, err := s.referralRepo.Touch(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if !ok {
			return payoutdomain.ErrInsufficientBalance
		}

		balance, err := s.balance(ctx, tx, userID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(balance.AvailableUSD) {
			return payoutdomain.ErrInsufficientBalance
		}
		return s.repo.Insert(ctx, tx, &request)
	})
	if err != nil {
		return payoutdomain.PayoutRequest{}, err
	}

	s.publish(ctx, request)
	s.log.Info("payout requested",
		zap.String("payout_request_id", request.ID.String()),
		zap.String("user_id", userID),
		zap.String("amount_usd", amount.StringFixed(2)),
	)
	return request, nil
}

func (s *Service) Approve(ctx context.Context, req payoutdomain.DecisionRequest) (payoutdomain.PayoutRequest, error) {
	return s.transition(ctx, req.AdminID, req.ID, payoutdomain.StatusApproved, auditdomain.ActionPayoutApprove, req.Reason,
		func(tx *gorm.DB, current *payoutdomain.PayoutRequest, t *payoutdomain.Transition) (map[string]any, error) {
			return map[string]any{"amount_usd": current.AmountUSD.StringFixed(2)}, nil
		})
}

func (s *Service) Reject(ctx context.Context, req payoutdomain.DecisionRequest) (payoutdomain.PayoutRequest, error) {
	return s.transition(ctx, req.AdminID, req.ID, payoutdomain.StatusRejected, auditdomain.ActionPayoutReject, req.Reason,
		func(tx *gorm.DB, current *payoutdomain.PayoutRequest, t *payoutdomain.Transition) (map[string]any, error) {
			t.RejectReason = optional(req.Reason)
			return map[string]any{"amount_usd": current.AmountUSD.StringFixed(2)}, nil
		})
}

// MarkPaid settles the user's pending earnings oldest first. Earnings are
// settled whole while the running total stays within the requested amount
// plus whatever earlier PAID requests sent without settling.
func (s *Service) MarkPaid(ctx context.Context, req payoutdomain.MarkPaidRequest) (payoutdomain.PayoutRequest, error) {
	return s.transition(ctx, req.AdminID, req.ID, payoutdomain.StatusPaid, auditdomain.ActionPayoutMarkPaid, req.Reason,
		func(tx *gorm.DB, current *payoutdomain.PayoutRequest, t *payoutdomain.Transition) (map[string]any, error) {
			if _, err := s.referralRepo.Touch(ctx, tx, current.UserID, t.At); err != nil {
				return nil, err
			}
			carried, err := s.repo.Unsettled(ctx, tx, current.UserID)
			if err != nil {
				return nil, err
			}
			pending, err := s.earningRepo.PendingForEarner(ctx, tx, current.UserID)
			if err != nil {
				return nil, err
			}

			budget := current.AmountUSD.Add(carried)
			settled := decimal.Zero
			ids := make([]snowflake.ID, 0, len(pending))
			for _, earning := range pending {
				next := settled.Add(earning.AmountUSD)
				if next.GreaterThan(budget) {
					break
				}
				settled = next
				ids = append(ids, earning.ID)
			}

			txID := optional(req.PayoutTxID)
			n, err := s.earningRepo.MarkPaid(ctx, tx, ids, commissiondomain.PaidUpdate{
				PaidAt:          t.At,
				TransactionID:   txID,
				PayoutRequestID: &current.ID,
			})
			if err != nil {
				return nil, err
			}
			if n != int64(len(ids)) {
				return nil, payoutdomain.ErrSettlementConflict
			}

			t.PayoutTxID = txID
			t.SettledUSD = &settled
			details := map[string]any{
				"amount_usd":       current.AmountUSD.StringFixed(2),
				"settled_usd":      settled.StringFixed(2),
				"settled_earnings": len(ids),
				"carried_in_usd":   carried.StringFixed(2),
			}
			if txID != nil {
				details["payout_tx_id"] = *txID
			}
			return details, nil
		})
}

type applyFunc func(tx *gorm.DB, current *payoutdomain.PayoutRequest, t *payoutdomain.Transition) (map[string]any, error)

func (s *Service) transition(ctx context.Context, adminID, rawID string, to payoutdomain.Status, action, reason string, apply applyFunc) (payoutdomain.PayoutRequest, error) {
	id, err := parseID(rawID)
	if err != nil {
		return payoutdomain.PayoutRequest{}, err
	}

	var out payoutdomain.PayoutRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.Status.CanMoveTo(to) {
			return payoutdomain.ErrInvalidTransition
		}

		admin := strings.TrimSpace(adminID)
		t := payoutdomain.Transition{To: to, At: s.clock.Now()}
		if admin != "" {
			t.DecidedBy = &admin
		}
		details, err := apply(tx, current, &t)
		if err != nil {
			return err
		}

		ok, err := s.repo.Transition(ctx, tx, id, current.Status, t)
		if err != nil {
			return err
		}
		if !ok {
			return payoutdomain.ErrInvalidTransition
		}

		details["from"] = string(current.Status)
		details["to"] = string(to)
		details["user_id"] = current.UserID
		if err := s.auditSvc.Record(ctx, tx, auditdomain.RecordRequest{
			AdminID:    adminID,
			ActionType: action,
			EntityType: auditdomain.EntityPayoutRequest,
			EntityID:   id.String(),
			Reason:     reason,
			Details:    details,
		}); err != nil {
			return err
		}

		updated, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		out = *updated
		return nil
	})
	if err != nil {
		return payoutdomain.PayoutRequest{}, err
	}

	s.publish(ctx, out)
	s.log.Info("payout request transitioned",
		zap.String("payout_request_id", out.ID.String()),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (payoutdomain.PayoutRequest, error) {
	requestID, err := parseID(id)
	if err != nil {
		return payoutdomain.PayoutRequest{}, err
	}
	request, err := s.load(ctx, s.db, requestID)
	if err != nil {
		return payoutdomain.PayoutRequest{}, err
	}
	return *request, nil
}

func (s *Service) List(ctx context.Context, req payoutdomain.ListRequest) (payoutdomain.ListResponse, error) {
	filter := payoutdomain.ListFilter{UserID: strings.TrimSpace(req.UserID)}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := payoutdomain.Status(strings.ToUpper(raw))
		if !status.Valid() {
			return payoutdomain.ListResponse{}, payoutdomain.ErrInvalidStatus
		}
		filter.Status = status
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return payoutdomain.ListResponse{}, payoutdomain.ErrInvalidPageToken
		}
		if filter.BeforeID, err = snowflake.ParseString(cursor.ID); err != nil {
			return payoutdomain.ListResponse{}, payoutdomain.ErrInvalidPageToken
		}
	}
	filter.Limit = req.Limit()

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return payoutdomain.ListResponse{}, err
	}
	items, pageInfo := pagination.Page(items, filter.Limit, func(r *payoutdomain.PayoutRequest) string { return r.ID.String() })

	out := make([]payoutdomain.PayoutRequest, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return payoutdomain.ListResponse{PageInfo: pageInfo, PayoutRequests: out}, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (payoutdomain.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return payoutdomain.Balance{}, payoutdomain.ErrInvalidUserID
	}
	return s.balance(ctx, s.db, userID)
}

func (s *Service) Receipt(ctx context.Context, id string) (payoutdomain.Receipt, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return payoutdomain.Receipt{}, err
	}
	if request.Status != payoutdomain.StatusPaid {
		return payoutdomain.Receipt{}, payoutdomain.ErrNotPaid
	}
	items, err := s.earningRepo.List(ctx, s.db, commissiondomain.ListFilter{PayoutRequestID: request.ID})
	if err != nil {
		return payoutdomain.Receipt{}, err
	}
	earnings := make([]commissiondomain.Earning, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		earnings = append(earnings, *items[i])
	}
	return payoutdomain.Receipt{Request: request, Earnings: earnings}, nil
}

func (s *Service) balance(ctx context.Context, db *gorm.DB, userID string) (payoutdomain.Balance, error) {
	summary, err := s.earningRepo.Summarize(ctx, db, commissiondomain.ListFilter{EarnerUserID: userID})
	if err != nil {
		return payoutdomain.Balance{}, err
	}
	reserved, err := s.repo.Reserved(ctx, db, userID)
	if err != nil {
		return payoutdomain.Balance{}, err
	}
	unsettled, err := s.repo.Unsettled(ctx, db, userID)
	if err != nil {
		return payoutdomain.Balance{}, err
	}
	available := summary.PendingUSD.Sub(reserved).Sub(unsettled)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return payoutdomain.Balance{
		UserID:       userID,
		PendingUSD:   summary.PendingUSD,
		PaidUSD:      summary.PaidUSD,
		ReservedUSD:  reserved,
		UnsettledUSD: unsettled,
		AvailableUSD: available,
	}, nil
}

func (s *Service) publish(ctx context.Context, request payoutdomain.PayoutRequest) {
	s.metrics.RecordPayoutTransition(string(request.Status))
	events.Emit(ctx, s.events, s.log, events.Event{
		Type:       events.TypePayoutRequestPrefix + strings.ToLower(string(request.Status)),
		OccurredAt: request.UpdatedAt,
		Payload: map[string]any{
			"payout_request_id": request.ID.String(),
			"user_id":           request.UserID,
			"status":            string(request.Status),
			"amount_usd":        request.AmountUSD.StringFixed(2),
			"settled_usd":       request.SettledUSD.StringFixed(2),
		},
	})
}

func (s *Service) load(ctx context.Context, db *gorm.DB, id snowflake.ID) (*payoutdomain.PayoutRequest, error) {
	request, err := s.repo.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, payoutdomain.ErrNotFound
	}
	return request, nil
}

func (s *Service) loadEarning(ctx context.Context, db *gorm.DB, id snowflake.ID) (*commissiondomain.Earning, error) {
	earning, err := s.earningRepo.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if earning == nil {
		return nil, payoutdomain.ErrEarningNotFound
	}
	return earning, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, payoutdomain.ErrInvalidID
	}
	return id, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

