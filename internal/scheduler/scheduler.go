package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/profitledger/internal/auditcontext"
	"github.com/smallbiznis/profitledger/internal/clock"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	coupondomain "github.com/smallbiznis/profitledger/internal/coupon/domain"
	obsmetrics "github.com/smallbiznis/profitledger/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/profitledger/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// systemActor attributes scheduler writes in the audit trail.
const systemActor = "system:scheduler"

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	CouponRepo    coupondomain.Repository
	PurchaseRepo  purchasedomain.Repository
	CommissionSvc commissiondomain.Service
	Config        Config              `optional:"true"`
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

// Scheduler runs periodic ledger maintenance: it expires lapsed coupons and
// retries commission distribution for purchases whose first attempt never
// committed.
type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	couponRepo    coupondomain.Repository
	purchaseRepo  purchasedomain.Repository
	commissionSvc commissiondomain.Service
	metrics       *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.CouponRepo == nil || p.PurchaseRepo == nil || p.CommissionSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		couponRepo:    p.CouponRepo,
		purchaseRepo:  p.PurchaseRepo,
		commissionSvc: p.CommissionSvc,
		metrics:       p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, "system", systemActor)
	log := s.log.With(zap.String("job", name))

	err := fn(ctx)
	if err == nil {
		s.metrics.RecordSchedulerJob(name, "ok", time.Since(start))
		return nil
	}

	// deadline is a soft timeout, the next tick picks up the remainder
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.RecordSchedulerJob(name, "timeout", time.Since(start))
		log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}

	s.metrics.RecordSchedulerJob(name, "error", time.Since(start))
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"expire_coupons", s.ExpireCouponsJob},
		{"recover_distributions", s.RecoverDistributionsJob},
	}

	for _, job := range jobs {
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExpireCouponsJob persists the expired status for active coupons past their
// expiry so admin listings filter on it directly.
func (s *Scheduler) ExpireCouponsJob(ctx context.Context) error {
	expired, err := s.couponRepo.ExpireDue(ctx, s.db, s.clock.Now())
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Info("coupons expired", zap.Int64("count", expired))
	}
	return nil
}

// RecoverDistributionsJob distributes commissions for purchases that were
// recorded without a committed distribution and have aged past the recovery
// threshold. Distribution is claim-once, so racing a concurrent retry is safe.
func (s *Scheduler) RecoverDistributionsJob(ctx context.Context) error {
	processed := false
	cutoff := s.clock.Now().Add(-s.cfg.RecoveryThreshold)
	pending, err := s.purchaseRepo.List(ctx, s.db, purchasedomain.ListFilter{
		Processed:     &processed,
		CreatedBefore: &cutoff,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return err
	}
	if len(pending) > s.cfg.BatchSize {
		pending = pending[:s.cfg.BatchSize]
	}

	var errs error
	for _, purchase := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := s.commissionSvc.Distribute(ctx, commissiondomain.DistributeRequest{
			AdminID:    systemActor,
			PurchaseID: purchase.ID.String(),
			Reason:     "recover_distributions",
		})
		if err != nil {
			s.log.Warn("distribution recovery failed",
				zap.String("purchase_id", purchase.ID.String()),
				zap.Error(err),
			)
			errs = errors.Join(errs, err)
			continue
		}
		s.log.Info("distribution recovered",
			zap.String("purchase_id", purchase.ID.String()),
			zap.Int("earnings", len(result.Earnings)),
			zap.Bool("already_processed", result.AlreadyProcessed),
		)
	}
	return errs
}
