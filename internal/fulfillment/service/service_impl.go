package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	checkoutdomain "github.com/smallbiznis/marketledger/internal/checkout/domain"
	"github.com/smallbiznis/marketledger/internal/clock"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	fulfillmentdomain "github.com/smallbiznis/marketledger/internal/fulfillment/domain"
	notificationdomain "github.com/smallbiznis/marketledger/internal/notification/domain"
	orderdomain "github.com/smallbiznis/marketledger/internal/order/domain"
	packagedomain "github.com/smallbiznis/marketledger/internal/packagepayout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Orders   orderdomain.Repository
	Bookings bookingdomain.Service
	Earnings earningsdomain.Service
	Packages packagedomain.Service
	Clock    clock.Clock
	Notifier notificationdomain.Notifier `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	orders   orderdomain.Repository
	bookings bookingdomain.Service
	earnings earningsdomain.Service
	packages packagedomain.Service
	clock    clock.Clock
	notifier notificationdomain.Notifier
}

func NewService(p Params) fulfillmentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("fulfillment.service"),
		orders:   p.Orders,
		bookings: p.Bookings,
		earnings: p.Earnings,
		packages: p.Packages,
		clock:    p.Clock,
		notifier: p.Notifier,
	}
}

// SchedulePackageSession books the next session of a completed package or
// bundle. The session is paid for, so the booking starts confirmed.
func (s *Service) SchedulePackageSession(ctx context.Context, in fulfillmentdomain.ScheduleInput) (*bookingdomain.Booking, error) {
	if in.OrderID == 0 || in.UserID == 0 || in.StartTime.IsZero() {
		return nil, bookingdomain.ErrInvalidBooking
	}

	var booking *bookingdomain.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.LockByID(ctx, tx, in.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		if order.UserID != in.UserID {
			return checkoutdomain.ErrOrderNotOwned
		}
		if order.Type != orderdomain.TypePackage && order.Type != orderdomain.TypeBundle {
			return fulfillmentdomain.ErrNotPlanOrder
		}
		if order.Status != orderdomain.StatusCompleted {
			return apperror.Wrapf(fulfillmentdomain.ErrOrderNotActive, "fulfillment.schedule",
				"order %s is %s", order.Reference, order.Status)
		}
		if err := s.orders.LoadDetails(ctx, tx, order); err != nil {
			return err
		}
		plan, ok := orderdomain.Plan(order.Details)
		if !ok {
			return fulfillmentdomain.ErrNotPlanOrder
		}
		if plan.ExpiresAt != nil && !in.StartTime.Before(*plan.ExpiresAt) {
			return apperror.Wrapf(fulfillmentdomain.ErrPlanExpired, "fulfillment.schedule",
				"sessions of %s expire at %s", order.Reference, plan.ExpiresAt.Format(time.RFC3339))
		}
		if plan.SessionsBooked >= plan.TotalSessions {
			return apperror.Wrapf(fulfillmentdomain.ErrPlanExhausted, "fulfillment.schedule",
				"%d of %d sessions booked", plan.SessionsBooked, plan.TotalSessions)
		}

		booking, err = s.bookings.CreateDraft(ctx, tx, bookingdomain.DraftInput{
			OrderID:        order.ID,
			ServiceID:      plan.ServiceID,
			PractitionerID: plan.PractitionerID,
			UserID:         order.UserID,
			Category:       plan.Category,
			Amount:         plan.SessionValue,
			StartTime:      in.StartTime,
			Duration:       time.Duration(plan.DurationMinutes) * time.Minute,
			Confirmed:      true,
		})
		if err != nil {
			return err
		}
		return s.orders.UpdatePlanProgress(ctx, tx, order.Type, order.ID, plan.SessionsBooked+1, plan.SessionsCompleted)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("package session scheduled",
		zap.String("order_id", in.OrderID.String()),
		zap.String("booking_id", booking.ID.String()),
	)
	return booking, nil
}

// HandleBookingCompleted records delivery. Direct service earnings move to
// pending; package sessions release their share of the package value.
func (s *Service) HandleBookingCompleted(ctx context.Context, bookingID snowflake.ID, endTime time.Time) (*fulfillmentdomain.Outcome, error) {
	if bookingID == 0 {
		return nil, bookingdomain.ErrInvalidBooking
	}
	if endTime.IsZero() {
		endTime = s.clock.Now()
	}

	out := &fulfillmentdomain.Outcome{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, changed, err := s.bookings.Complete(ctx, tx, bookingID, endTime)
		if err != nil {
			return err
		}
		out.Booking, out.Changed = booking, changed
		if !changed {
			return nil
		}

		order, err := s.orders.FindByID(ctx, tx, booking.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		switch order.Type {
		case orderdomain.TypePackage, orderdomain.TypeBundle:
			release, err := s.packages.RecordSessionCompleted(ctx, tx, packagedomain.SessionInput{
				OrderID:   order.ID,
				BookingID: booking.ID,
				EndTime:   booking.EndTime,
			})
			if err != nil {
				return err
			}
			out.Release = release
			if release.Transaction != nil {
				out.Transitioned = 1
			}
			return s.adjustPlan(ctx, tx, order, 0, 1)
		default:
			out.Transitioned, err = s.earnings.HandleBookingCompleted(ctx, tx, booking.ID, booking.EndTime)
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	if out.Changed {
		s.log.Info("booking completed",
			zap.String("booking_id", bookingID.String()),
			zap.String("order_id", out.Booking.OrderID.String()),
			zap.Int("earnings_transitioned", out.Transitioned),
		)
		if out.Release != nil && out.Release.Transaction != nil {
			s.notify(ctx, out.Booking, out.Release.Transaction)
		}
	}
	return out, nil
}

// HandleBookingCanceled reverses a direct booking's earnings. A canceled
// package session only frees its slot; nothing was released for it.
func (s *Service) HandleBookingCanceled(ctx context.Context, bookingID snowflake.ID, reason string) (*fulfillmentdomain.Outcome, error) {
	if bookingID == 0 {
		return nil, bookingdomain.ErrInvalidBooking
	}

	out := &fulfillmentdomain.Outcome{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, changed, err := s.bookings.Cancel(ctx, tx, bookingID, reason)
		if err != nil {
			return err
		}
		out.Booking, out.Changed = booking, changed
		if !changed {
			return nil
		}

		order, err := s.orders.FindByID(ctx, tx, booking.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return orderdomain.ErrOrderNotFound
		}
		switch order.Type {
		case orderdomain.TypePackage, orderdomain.TypeBundle:
			return s.adjustPlan(ctx, tx, order, -1, 0)
		default:
			out.Transitioned, err = s.earnings.HandleBookingCanceled(ctx, tx, booking.ID, reason)
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	if out.Changed {
		s.log.Info("booking canceled",
			zap.String("booking_id", bookingID.String()),
			zap.Int("earnings_reversed", out.Transitioned),
		)
	}
	return out, nil
}

func (s *Service) adjustPlan(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, booked, completed int) error {
	if err := s.orders.LoadDetails(ctx, tx, order); err != nil {
		return err
	}
	plan, ok := orderdomain.Plan(order.Details)
	if !ok {
		return nil
	}
	nextBooked := plan.SessionsBooked + booked
	if nextBooked < 0 {
		nextBooked = 0
	}
	return s.orders.UpdatePlanProgress(ctx, tx, order.Type, order.ID, nextBooked, plan.SessionsCompleted+completed)
}

func (s *Service) notify(ctx context.Context, booking *bookingdomain.Booking, txn *earningsdomain.Transaction) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx,
		notificationdomain.Recipient{Kind: notificationdomain.RecipientPractitioner, ID: booking.PractitionerID.String()},
		notificationdomain.EventEarningsPending,
		map[string]any{
			"order_id":       booking.OrderID.String(),
			"booking_id":     booking.ID.String(),
			"transaction_id": txn.ID.String(),
			"net":            txn.Net,
			"available_at":   txn.AvailableAfter,
		},
	)
}
