package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/audit"
	"github.com/smallbiznis/marketledger/internal/booking"
	"github.com/smallbiznis/marketledger/internal/catalog"
	"github.com/smallbiznis/marketledger/internal/checkout"
	"github.com/smallbiznis/marketledger/internal/clock"
	"github.com/smallbiznis/marketledger/internal/commission"
	"github.com/smallbiznis/marketledger/internal/config"
	"github.com/smallbiznis/marketledger/internal/credit"
	"github.com/smallbiznis/marketledger/internal/earnings"
	"github.com/smallbiznis/marketledger/internal/fulfillment"
	"github.com/smallbiznis/marketledger/internal/lock"
	"github.com/smallbiznis/marketledger/internal/logger"
	"github.com/smallbiznis/marketledger/internal/migration"
	"github.com/smallbiznis/marketledger/internal/notification"
	"github.com/smallbiznis/marketledger/internal/observability"
	"github.com/smallbiznis/marketledger/internal/order"
	"github.com/smallbiznis/marketledger/internal/packagepayout"
	"github.com/smallbiznis/marketledger/internal/payment"
	"github.com/smallbiznis/marketledger/internal/payout"
	"github.com/smallbiznis/marketledger/internal/pricing"
	"github.com/smallbiznis/marketledger/internal/scheduler"
	"github.com/smallbiznis/marketledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "marketledger: %v\n", err)
		os.Exit(1)
	}
}

// infrastructure is shared by every command that touches the database.
func infrastructure(nodeID int64) fx.Option {
	return fx.Options(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(func() (*snowflake.Node, error) { return snowflake.NewNode(nodeID) }),
		db.Module,
		clock.Module,
		lock.Module,
	)
}

// ledger wires the domain services behind checkout, fulfillment and payouts.
func ledger() fx.Option {
	return fx.Options(
		migration.Module,
		notification.Module,
		audit.Module,
		catalog.Module,
		order.Module,
		commission.Module,
		credit.Module,
		pricing.Module,
		booking.Module,
		earnings.Module,
		packagepayout.Module,
		payout.Module,
		payment.Module,
		checkout.Module,
		fulfillment.Module,
		scheduler.Module,
	)
}
