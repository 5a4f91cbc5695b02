package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	auditdomain "github.com/smallbiznis/marketledger/internal/audit/domain"
	"github.com/smallbiznis/marketledger/internal/clock"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	packagedomain "github.com/smallbiznis/marketledger/internal/packagepayout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     packagedomain.Repository
	Earnings earningsdomain.Service
	Clock    clock.Clock
	Audit    auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     packagedomain.Repository
	earnings earningsdomain.Service
	clock    clock.Clock
	audit    auditdomain.Service
}

func NewService(p Params) packagedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("packagepayout.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		earnings: p.Earnings,
		clock:    p.Clock,
		audit:    p.Audit,
	}
}

// Open starts tracking a package order. Opening the same order twice returns
// the existing record.
func (s *Service) Open(ctx context.Context, tx *gorm.DB, in packagedomain.OpenInput) (*packagedomain.Record, error) {
	if in.OrderID == 0 || in.PractitionerID == 0 || in.TotalSessions <= 0 || in.PackageValue < 0 {
		return nil, packagedomain.ErrInvalidInput
	}
	if strings.TrimSpace(in.Category) == "" {
		return nil, packagedomain.ErrInvalidInput
	}

	existing, err := s.repo.FindByOrder(ctx, tx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now()
	record := packagedomain.Record{
		ID:             s.genID.Generate(),
		OrderID:        in.OrderID,
		PractitionerID: in.PractitionerID,
		Category:       strings.ToLower(strings.TrimSpace(in.Category)),
		OrderType:      in.OrderType,
		TotalSessions:  in.TotalSessions,
		PackageValue:   in.PackageValue,
		Status:         packagedomain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, tx, &record); err != nil {
		return nil, err
	}

	s.log.Info("package payout record opened",
		zap.String("order_id", in.OrderID.String()),
		zap.String("practitioner_id", in.PractitionerID.String()),
		zap.Int("total_sessions", in.TotalSessions),
		zap.Int64("package_value", in.PackageValue),
	)
	return &record, nil
}

// RecordSessionCompleted counts one delivered session and releases the value
// of the completion band it closes. The last session releases whatever the
// earlier bands left, so the releases sum to the package value exactly.
func (s *Service) RecordSessionCompleted(ctx context.Context, tx *gorm.DB, in packagedomain.SessionInput) (*packagedomain.SessionResult, error) {
	if in.OrderID == 0 || in.BookingID == 0 || in.EndTime.IsZero() {
		return nil, packagedomain.ErrInvalidInput
	}

	record, err := s.repo.LockByOrder(ctx, tx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, packagedomain.ErrRecordNotFound
	}
	switch record.Status {
	case packagedomain.StatusCanceled:
		return nil, packagedomain.ErrRecordCanceled
	case packagedomain.StatusCompleted:
		return &packagedomain.SessionResult{Record: record}, nil
	}

	now := s.clock.Now()
	counted, err := s.repo.InsertSession(ctx, tx, &packagedomain.SessionCompletion{
		BookingID:     in.BookingID,
		OrderID:       in.OrderID,
		SessionNumber: record.CompletedSessions + 1,
		CompletedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	if !counted {
		return &packagedomain.SessionResult{Record: record}, nil
	}

	record.CompletedSessions++
	if record.CompletedSessions > record.TotalSessions {
		return nil, apperror.Wrapf(packagedomain.ErrOverpaid, "packagepayout.session",
			"session %d of %d", record.CompletedSessions, record.TotalSessions)
	}
	record.CompletionBps = int64(record.CompletedSessions) * packagedomain.FullBps / int64(record.TotalSessions)
	record.UpdatedAt = now

	var (
		gross int64
		kind  earningsdomain.Kind
		key   string
	)
	switch {
	case record.CompletedSessions == record.TotalSessions:
		gross = record.PackageValue - record.TotalPaidCredits
		kind = earningsdomain.KindPackageFinal
		key = fmt.Sprintf("package:%s:final", record.OrderID)
		record.CompletionBps = packagedomain.FullBps
		record.LastPayoutBps = packagedomain.FullBps
		record.Status = packagedomain.StatusCompleted
		record.PayoutProcessed = true
	case record.CompletionBps > record.LastPayoutBps:
		delta := record.CompletionBps - record.LastPayoutBps
		gross = record.PackageValue * delta / packagedomain.FullBps
		kind = earningsdomain.KindPackageDelta
		key = fmt.Sprintf("package:%s:session:%d", record.OrderID, record.CompletedSessions)
		record.LastPayoutBps = record.CompletionBps
		record.Status = packagedomain.StatusPartiallyCompleted
	default:
		record.Status = packagedomain.StatusPartiallyCompleted
	}

	if gross < 0 {
		return nil, apperror.Wrapf(packagedomain.ErrOverpaid, "packagepayout.session",
			"paid %d of package value %d", record.TotalPaidCredits, record.PackageValue)
	}
	record.TotalPaidCredits += gross
	if err := record.Check(); err != nil {
		return nil, err
	}

	result := &packagedomain.SessionResult{Record: record, Counted: true}
	if gross > 0 {
		bookingID := in.BookingID
		txn, err := s.earnings.CreatePending(ctx, tx, earningsdomain.PendingInput{
			PractitionerID: record.PractitionerID,
			BookingID:      &bookingID,
			OrderID:        record.OrderID,
			Category:       record.Category,
			Gross:          gross,
			EndTime:        in.EndTime,
			Kind:           kind,
			DedupeKey:      key,
		})
		if err != nil {
			return nil, err
		}
		result.Transaction = txn
		record.LastPayoutAt = &now
	}

	if err := s.repo.Save(ctx, tx, record); err != nil {
		return nil, err
	}

	if record.PayoutProcessed {
		s.record(ctx, tx, "package.payout_processed", record)
	}
	s.log.Info("package session completed",
		zap.String("order_id", record.OrderID.String()),
		zap.String("booking_id", in.BookingID.String()),
		zap.Int("completed_sessions", record.CompletedSessions),
		zap.Int64("completion_bps", record.CompletionBps),
		zap.Int64("released", gross),
		zap.Int64("total_paid", record.TotalPaidCredits),
	)
	return result, nil
}

// Cancel stops further releases. Earnings already released are left to the
// refund path.
func (s *Service) Cancel(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (*packagedomain.Record, error) {
	if orderID == 0 {
		return nil, packagedomain.ErrInvalidInput
	}
	record, err := s.repo.LockByOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, packagedomain.ErrRecordNotFound
	}
	if record.Status == packagedomain.StatusCanceled {
		return record, nil
	}

	record.Status = packagedomain.StatusCanceled
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.Save(ctx, tx, record); err != nil {
		return nil, err
	}
	s.record(ctx, tx, "package.canceled", record)
	s.log.Info("package payout record canceled",
		zap.String("order_id", orderID.String()),
		zap.Int("completed_sessions", record.CompletedSessions),
		zap.Int64("total_paid", record.TotalPaidCredits),
	)
	return record, nil
}

func (s *Service) Get(ctx context.Context, orderID snowflake.ID) (*packagedomain.Record, error) {
	record, err := s.repo.FindByOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, packagedomain.ErrRecordNotFound
	}
	return record, nil
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, action string, record *packagedomain.Record) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, tx, auditdomain.Entry{
		ActorType:  "system",
		Action:     action,
		TargetType: "package_completion_record",
		TargetID:   record.OrderID.String(),
		Metadata: map[string]any{
			"completed_sessions": record.CompletedSessions,
			"total_sessions":     record.TotalSessions,
			"total_paid_credits": record.TotalPaidCredits,
			"package_value":      record.PackageValue,
		},
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
