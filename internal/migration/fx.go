package migration

import (
	"strings"

	"github.com/smallbiznis/profitledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.MigrationsEnabled {
			log.Info("migrations disabled")
			return nil
		}
		if !strings.EqualFold(cfg.DBType, "postgres") {
			log.Info("auto-migrating ledger tables", zap.String("db_type", cfg.DBType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
