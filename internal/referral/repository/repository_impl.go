package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/profitledger/internal/referral/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(`SELECT * FROM referral_accounts WHERE user_id = ?`, userID).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(`SELECT * FROM referral_accounts WHERE referral_code = ?`, code).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(account).Error
}

func (r *repo) SetReferrer(ctx context.Context, db *gorm.DB, userID, referrerUserID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE referral_accounts
		 SET referrer_user_id = ?, referred_at = ?, updated_at = ?
		 WHERE user_id = ? AND referrer_user_id IS NULL`,
		referrerUserID, now, now, userID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ReferrerOf(ctx context.Context, db *gorm.DB, userID string) (string, error) {
	var row struct {
		ReferrerUserID *string
	}
	err := db.WithContext(ctx).Raw(
		`SELECT referrer_user_id FROM referral_accounts WHERE user_id = ?`,
		userID,
	).Scan(&row).Error
	if err != nil {
		return "", err
	}
	if row.ReferrerUserID == nil {
		return "", nil
	}
	return *row.ReferrerUserID, nil
}

func (r *repo) CountDirectReferrals(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM referral_accounts WHERE referrer_user_id = ?`,
		userID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, userID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(`UPDATE referral_accounts SET updated_at = ? WHERE user_id = ?`, now, userID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
