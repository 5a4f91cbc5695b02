package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/marketledger/internal/booking/domain"
	"github.com/smallbiznis/marketledger/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  bookingdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  bookingdomain.Repository
	clock clock.Clock
}

func NewService(p Params) bookingdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("booking.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) CreateDraft(ctx context.Context, tx *gorm.DB, in bookingdomain.DraftInput) (*bookingdomain.Booking, error) {
	if in.OrderID == 0 || in.ServiceID == 0 || in.PractitionerID == 0 || in.UserID == 0 {
		return nil, bookingdomain.ErrInvalidBooking
	}
	if in.StartTime.IsZero() || in.Duration <= 0 || in.Amount < 0 {
		return nil, bookingdomain.ErrInvalidBooking
	}

	now := s.clock.Now()
	booking := &bookingdomain.Booking{
		ID:             s.genID.Generate(),
		OrderID:        in.OrderID,
		ServiceID:      in.ServiceID,
		PractitionerID: in.PractitionerID,
		UserID:         in.UserID,
		Category:       strings.ToLower(strings.TrimSpace(in.Category)),
		Status:         bookingdomain.StatusDraft,
		Amount:         in.Amount,
		StartTime:      in.StartTime.UTC(),
		EndTime:        in.StartTime.UTC().Add(in.Duration),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Confirmed {
		booking.Status = bookingdomain.StatusConfirmed
		booking.ConfirmedAt = &now
	}
	if err := s.repo.Insert(ctx, tx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *Service) Confirm(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*bookingdomain.Booking, error) {
	booking, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	switch booking.Status {
	case bookingdomain.StatusConfirmed, bookingdomain.StatusCompleted:
		return booking, nil
	case bookingdomain.StatusCanceled:
		return nil, bookingdomain.ErrBookingCanceled
	}

	now := s.clock.Now()
	booking.Status = bookingdomain.StatusConfirmed
	booking.ConfirmedAt = &now
	booking.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, booking); err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *Service) Cancel(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string) (*bookingdomain.Booking, bool, error) {
	booking, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	switch booking.Status {
	case bookingdomain.StatusCanceled:
		return booking, false, nil
	case bookingdomain.StatusCompleted:
		return booking, false, bookingdomain.ErrBookingCompleted
	}

	now := s.clock.Now()
	booking.Status = bookingdomain.StatusCanceled
	booking.CanceledAt = &now
	booking.CancelReason = strings.TrimSpace(reason)
	booking.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, booking); err != nil {
		return nil, false, err
	}
	s.log.Info("booking canceled",
		zap.String("booking_id", booking.ID.String()),
		zap.String("order_id", booking.OrderID.String()),
		zap.String("reason", booking.CancelReason),
	)
	return booking, true, nil
}

// Complete records delivery. endTime overrides the scheduled end when the
// session ran long or short.
func (s *Service) Complete(ctx context.Context, tx *gorm.DB, id snowflake.ID, endTime time.Time) (*bookingdomain.Booking, bool, error) {
	booking, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	switch booking.Status {
	case bookingdomain.StatusCompleted:
		return booking, false, nil
	case bookingdomain.StatusCanceled:
		return nil, false, bookingdomain.ErrBookingCanceled
	case bookingdomain.StatusDraft:
		return nil, false, bookingdomain.ErrBookingNotConfirmed
	}

	now := s.clock.Now()
	if !endTime.IsZero() {
		booking.EndTime = endTime.UTC()
	}
	booking.Status = bookingdomain.StatusCompleted
	booking.CompletedAt = &now
	booking.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, booking); err != nil {
		return nil, false, err
	}
	return booking, true, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*bookingdomain.Booking, error) {
	booking, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, bookingdomain.ErrBookingNotFound
	}
	return booking, nil
}

func (s *Service) ListByOrder(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) ([]bookingdomain.Booking, error) {
	if tx == nil {
		tx = s.db
	}
	return s.repo.ListByOrder(ctx, tx, orderID)
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*bookingdomain.Booking, error) {
	booking, err := s.repo.LockByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, bookingdomain.ErrBookingNotFound
	}
	return booking, nil
}
