package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradecore/src/model"
)

// MainDB is the primary read/write database connection used by the application.
var MainDB *gorm.DB

// InitMainDB initializes the main (read/write) database connection and runs
// migrations. This should be called once at application startup.
func InitMainDB() error {

	config := GetConfig()

	dialector := dialectorForURL(config.DatabaseURL)

	db, err := gorm.Open(dialector,
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to get DB from GORM")
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	// Assign to the global variable only after a successful connection.
	MainDB = db

	logrus.Info("[database] MainDB connection established")

	// Add here all models that belong to the write-side schema.
	if err := MainDB.AutoMigrate(
		&model.BrokerAccount{},
		&model.Transaction{},
		&model.Order{},
		&model.OrderLog{},
		&model.Recommendation{},
		&model.AnalysisTask{},
		&model.ActionResult{},
		&model.Rule{},
		&model.RuleCondition{},
		&model.RuleAction{},
		&model.Exception{},
		&model.OHLCVBar{},
	); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}

	logrus.Info("[database] MainDB migrations completed")

	return nil
}

// dialectorForURL picks sqlite for file/memory DSNs, postgres otherwise.
// Local runs and CI use sqlite, deployments use postgres.
func dialectorForURL(url string) gorm.Dialector {
	if strings.HasPrefix(url, "sqlite://") {
		return sqlite.Open(strings.TrimPrefix(url, "sqlite://"))
	}
	if strings.HasPrefix(url, "file:") || strings.HasSuffix(url, ".db") {
		return sqlite.Open(url)
	}
	return postgres.Open(url)
}
