package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/profitledger/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/profitledger/internal/catalog/domain"
	commissiondomain "github.com/smallbiznis/profitledger/internal/commission/domain"
	coupondomain "github.com/smallbiznis/profitledger/internal/coupon/domain"
	entitlementdomain "github.com/smallbiznis/profitledger/internal/entitlement/domain"
	payoutdomain "github.com/smallbiznis/profitledger/internal/payout/domain"
	purchasedomain "github.com/smallbiznis/profitledger/internal/purchase/domain"
	referraldomain "github.com/smallbiznis/profitledger/internal/referral/domain"
	userdiscountdomain "github.com/smallbiznis/profitledger/internal/userdiscount/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every ledger table for dialects without SQL migrations.
func Models() []any {
	return []any{
		&auditdomain.Entry{},
		&catalogdomain.PackageSetting{},
		&entitlementdomain.Entitlement{},
		&coupondomain.Coupon{},
		&coupondomain.Redemption{},
		&userdiscountdomain.UserDiscount{},
		&referraldomain.Account{},
		&purchasedomain.EligiblePurchase{},
		&payoutdomain.PayoutRequest{},
		&commissiondomain.Earning{},
	}
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	// migrator.Close would close the shared *sql.DB.
	return nil
}

// AutoMigrate covers mysql and sqlite, which have no SQL migrations.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}
