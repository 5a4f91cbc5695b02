package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	catalogdomain "github.com/smallbiznis/marketledger/internal/catalog/domain"
	"github.com/smallbiznis/marketledger/internal/clock"
	"github.com/smallbiznis/marketledger/internal/config"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	pricingdomain "github.com/smallbiznis/marketledger/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Catalog catalogdomain.Repository
	Credit  creditdomain.Service
	Clock   clock.Clock
	Ledger  config.LedgerConfig
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	catalog catalogdomain.Repository
	credit  creditdomain.Service
	clock   clock.Clock
	ledger  config.LedgerConfig
}

func NewService(p Params) pricingdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("pricing.service"),
		catalog: p.Catalog,
		credit:  p.Credit,
		clock:   p.Clock,
		ledger:  p.Ledger,
	}
}

func (s *Service) Quote(ctx context.Context, in pricingdomain.QuoteInput) (*pricingdomain.Quote, error) {
	return s.QuoteTx(ctx, s.db, in)
}

// QuoteTx prices in without writing anything: discount, then flat tax on the
// discounted amount, then credits up to what is left.
func (s *Service) QuoteTx(ctx context.Context, tx *gorm.DB, in pricingdomain.QuoteInput) (*pricingdomain.Quote, error) {
	if len(in.Items) == 0 {
		return nil, pricingdomain.ErrNoItems
	}
	if in.RequestedCredits != nil && *in.RequestedCredits < 0 {
		return nil, pricingdomain.ErrInvalidCredits
	}

	ids := make([]snowflake.ID, 0, len(in.Items))
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, pricingdomain.ErrInvalidQuantity
		}
		ids = append(ids, item.ServiceID)
	}
	services, err := s.catalog.FindServices(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	quote := &pricingdomain.Quote{
		Currency: s.ledger.Currency,
		Items:    make([]pricingdomain.QuotedItem, 0, len(in.Items)),
	}
	for _, item := range in.Items {
		svc, ok := services[item.ServiceID]
		if !ok || !svc.Active {
			return nil, apperror.Wrapf(pricingdomain.ErrUnknownService, "pricing.quote", "service %s", item.ServiceID)
		}
		amount := svc.Price * int64(item.Quantity)
		quote.Items = append(quote.Items, pricingdomain.QuotedItem{
			Service:   svc,
			ServiceID: svc.ID,
			Quantity:  item.Quantity,
			UnitPrice: svc.Price,
			Amount:    amount,
		})
		quote.Subtotal += amount
	}

	if code := strings.TrimSpace(in.DiscountCode); code != "" {
		discount, err := s.catalog.FindDiscountCode(ctx, tx, code)
		if err != nil {
			return nil, err
		}
		if discount == nil || !discount.Usable(s.clock.Now()) {
			return nil, pricingdomain.ErrInvalidDiscountCode
		}
		quote.DiscountCode = discount.Code
		quote.Discount = discount.Apply(quote.Subtotal)
		allocateDiscount(quote.Items, quote.Discount, quote.Subtotal)
	}

	afterDiscount := quote.Subtotal - quote.Discount
	if s.ledger.TaxRateBps > 0 {
		quote.Tax = afterDiscount * s.ledger.TaxRateBps / 10000
	}
	payable := afterDiscount + quote.Tax

	if in.UserID != 0 {
		available, err := s.credit.BalanceTx(ctx, tx, in.UserID)
		if err != nil {
			return nil, err
		}
		quote.CreditsAvailable = available
	}
	if in.UseCredits {
		applied := quote.CreditsAvailable
		if in.RequestedCredits != nil && *in.RequestedCredits < applied {
			applied = *in.RequestedCredits
		}
		if applied > payable {
			applied = payable
		}
		if applied > 0 {
			quote.CreditsApplied = applied
		}
	}

	quote.Total = payable - quote.CreditsApplied
	return quote, nil
}

// allocateDiscount spreads discount over items in proportion to their amount;
// the last line takes the rounding remainder.
func allocateDiscount(items []pricingdomain.QuotedItem, discount, subtotal int64) {
	if discount <= 0 || subtotal <= 0 || len(items) == 0 {
		return
	}
	remaining := discount
	for i := range items {
		if i == len(items)-1 {
			items[i].Discount = remaining
			break
		}
		share := discount * items[i].Amount / subtotal
		items[i].Discount = share
		remaining -= share
	}
}
