package service

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/profitledger/internal/clock"
	referraldomain "github.com/smallbiznis/profitledger/internal/referral/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	codeAlphabet        = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength          = 8
	maxGenerateAttempts = 5
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  referraldomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  referraldomain.Repository
}

func NewService(p Params) referraldomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("referral.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Enroll(ctx context.Context, req referraldomain.EnrollRequest) (referraldomain.Account, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return referraldomain.Account{}, referraldomain.ErrInvalidUserID
	}
	code := strings.ToUpper(strings.TrimSpace(req.ReferralCode))

	var out referraldomain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.ensureAccount(ctx, tx, userID)
		if err != nil {
			return err
		}
		out = *account
		if code == "" {
			return nil
		}

		referrer, err := s.repo.FindByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if referrer == nil {
			return referraldomain.ErrCodeNotFound
		}
		if referrer.UserID == userID {
			return referraldomain.ErrSelfReferral
		}
		if account.ReferrerUserID != nil {
			if *account.ReferrerUserID == referrer.UserID {
				return nil
			}
			return referraldomain.ErrReferrerAlreadySet
		}

		upline, err := s.ResolveUpline(ctx, tx, referrer.UserID)
		if err != nil {
			return err
		}
		for _, ancestor := range upline {
			if ancestor == userID {
				return referraldomain.ErrReferralCycle
			}
		}

		now := s.clock.Now()
		ok, err := s.repo.SetReferrer(ctx, tx, userID, referrer.UserID, now)
		if err != nil {
			return err
		}
		if !ok {
			return referraldomain.ErrReferrerAlreadySet
		}
		referrerID := referrer.UserID
		out.ReferrerUserID = &referrerID
		out.ReferredAt = &now
		out.UpdatedAt = now
		return nil
	})
	if err != nil {
		return referraldomain.Account{}, err
	}

	s.log.Info("referral account enrolled",
		zap.String("user_id", userID),
		zap.Bool("has_referrer", out.ReferrerUserID != nil),
	)
	return out, nil
}

func (s *Service) Get(ctx context.Context, userID string) (referraldomain.AccountView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return referraldomain.AccountView{}, referraldomain.ErrInvalidUserID
	}
	account, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return referraldomain.AccountView{}, err
	}
	if account == nil {
		return referraldomain.AccountView{}, referraldomain.ErrNotFound
	}
	direct, err := s.repo.CountDirectReferrals(ctx, s.db, userID)
	if err != nil {
		return referraldomain.AccountView{}, err
	}
	return referraldomain.AccountView{Account: *account, DirectReferrals: direct}, nil
}

func (s *Service) ResolveUpline(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	if db == nil {
		db = s.db
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, referraldomain.ErrInvalidUserID
	}

	visited := map[string]struct{}{userID: {}}
	upline := make([]string, 0, referraldomain.MaxUplineDepth)
	current := userID
	for len(upline) < referraldomain.MaxUplineDepth {
		referrer, err := s.repo.ReferrerOf(ctx, db, current)
		if err != nil {
			return nil, err
		}
		if referrer == "" {
			break
		}
		if _, seen := visited[referrer]; seen {
			s.log.Warn("referral cycle detected",
				zap.String("user_id", userID),
				zap.String("repeated_user_id", referrer),
				zap.Int("depth", len(upline)+1),
			)
			break
		}
		visited[referrer] = struct{}{}
		upline = append(upline, referrer)
		current = referrer
	}
	return upline, nil
}

func (s *Service) ensureAccount(ctx context.Context, tx *gorm.DB, userID string) (*referraldomain.Account, error) {
	account, err := s.repo.FindByUserID(ctx, tx, userID)
	if err != nil || account != nil {
		return account, err
	}

	// A lost insert means either a concurrent enrolment or a code collision.
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := newReferralCode()
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		if err := s.repo.InsertIfAbsent(ctx, tx, &referraldomain.Account{
			ID:           s.genID.Generate(),
			UserID:       userID,
			ReferralCode: code,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return nil, err
		}
		account, err := s.repo.FindByUserID(ctx, tx, userID)
		if err != nil || account != nil {
			return account, err
		}
	}
	return nil, referraldomain.ErrInvalidReferralCode
}

func newReferralCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String(), nil
}
