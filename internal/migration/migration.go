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
	auditdomain "github.com/smallbiznis/marketledger/internal/audit/domain"
	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	catalogdomain "github.com/smallbiznis/marketledger/internal/catalog/domain"
	commissiondomain "github.com/smallbiznis/marketledger/internal/commission/domain"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	packagedomain "github.com/smallbiznis/marketledger/internal/packagepayout/domain"
	paymentdomain "github.com/smallbiznis/marketledger/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/marketledger/internal/payout/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the ledger owns, for databases migrated with
// AutoMigrate instead of the SQL files.
func Models() []any {
	return []any{
		&catalogdomain.Practitioner{},
		&catalogdomain.Service{},
		&catalogdomain.DiscountCode{},
		&commissiondomain.BaseRate{},
		&commissiondomain.TierAdjustment{},
		&creditdomain.Entry{},
		&creditdomain.Balance{},
		&creditdomain.Expiration{},
		&orderdomain.Order{},
		&orderdomain.Item{},
		&orderdomain.PackageDetails{},
		&orderdomain.BundleDetails{},
		&orderdomain.SubscriptionDetails{},
		&orderdomain.CreditPurchaseDetails{},
		&bookingdomain.Booking{},
		&earningsdomain.Transaction{},
		&earningsdomain.Balance{},
		&packagedomain.Record{},
		&packagedomain.SessionCompletion{},
		&payoutdomain.Payout{},
		&payoutdomain.Item{},
		&paymentdomain.Event{},
		&auditdomain.AuditLog{},
	}
}

// Migrate brings the schema up to date. Postgres runs the versioned SQL
// files; sqlite and mysql, used for local runs, fall back to AutoMigrate.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		return conn.AutoMigrate(Models()...)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded SQL migrations to a postgres database.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Rollback reverts the last applied migration.
func Rollback(db *sql.DB) error {
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := migrator.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migration: %w", err)
	}
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}
