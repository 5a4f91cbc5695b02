package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/marketledger/internal/apperror"
	auditdomain "github.com/smallbiznis/marketledger/internal/audit/domain"
	"github.com/smallbiznis/marketledger/internal/clock"
	"github.com/smallbiznis/marketledger/internal/config"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	"github.com/smallbiznis/marketledger/internal/lock"
	notificationdomain "github.com/smallbiznis/marketledger/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/marketledger/internal/observability/metrics"
	payoutdomain "github.com/smallbiznis/marketledger/internal/payout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	payoutLockTTL   = 30 * time.Second
	defaultListSize = 20
	maxListSize     = 200
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       payoutdomain.Repository
	Earnings   earningsdomain.Service
	Clock      clock.Clock
	Ledger     config.LedgerConfig
	Locker     *lock.Locker                `optional:"true"`
	Notifier   notificationdomain.Notifier `optional:"true"`
	Audit      auditdomain.Service         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       payoutdomain.Repository
	earnings   earningsdomain.Service
	clock      clock.Clock
	ledger     config.LedgerConfig
	locker     *lock.Locker
	notifier   notificationdomain.Notifier
	audit      auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) payoutdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payout.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		earnings:   p.Earnings,
		clock:      p.Clock,
		ledger:     p.Ledger,
		locker:     p.Locker,
		notifier:   p.Notifier,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CheckEligibility(ctx context.Context, practitionerID snowflake.ID) (payoutdomain.Eligibility, error) {
	if practitionerID == 0 {
		return payoutdomain.Eligibility{}, payoutdomain.ErrInvalidRequest
	}
	balance, err := s.earnings.GetBalance(ctx, practitionerID)
	if err != nil {
		return payoutdomain.Eligibility{}, err
	}
	return eligibility(practitionerID, balance.Available, s.ledger.MinimumPayout), nil
}

func eligibility(practitionerID snowflake.ID, available, minimum int64) payoutdomain.Eligibility {
	out := payoutdomain.Eligibility{
		PractitionerID: practitionerID,
		Available:      available,
		MinimumPayout:  minimum,
	}
	switch {
	case available <= 0:
		out.Reason = payoutdomain.ReasonNoEarnings
	case available < minimum:
		out.Reason = payoutdomain.ReasonBelowMinimum
	default:
		out.Eligible = true
		out.Reason = payoutdomain.ReasonEligible
	}
	return out
}

// CreatePayout claims available earnings oldest first up to requested, or
// all of them when requested is nil. Whole transactions are claimed, so the
// payout amount can exceed requested by part of the last transaction.
func (s *Service) CreatePayout(ctx context.Context, practitionerID snowflake.ID, requested *int64) (*payoutdomain.Payout, error) {
	if practitionerID == 0 {
		return nil, payoutdomain.ErrInvalidRequest
	}
	if requested != nil && *requested <= 0 {
		return nil, payoutdomain.ErrInvalidRequest
	}

	var payout *payoutdomain.Payout
	err := s.locker.With(ctx, lock.PayoutKey(practitionerID.String()), payoutLockTTL, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.earnings.LockBalance(ctx, tx, practitionerID)
			if err != nil {
				return err
			}
			check := eligibility(practitionerID, balance.Available, s.ledger.MinimumPayout)
			if !check.Eligible {
				return apperror.Wrapf(payoutdomain.ErrBelowMinimum, "payout.create",
					"available %d, minimum %d", balance.Available, s.ledger.MinimumPayout)
			}
			if requested != nil {
				if *requested < s.ledger.MinimumPayout {
					return apperror.Wrapf(payoutdomain.ErrBelowMinimum, "payout.create",
						"requested %d, minimum %d", *requested, s.ledger.MinimumPayout)
				}
				if *requested > balance.Available {
					return apperror.Wrapf(payoutdomain.ErrInsufficientEarnings, "payout.create",
						"requested %d, available %d", *requested, balance.Available)
				}
			}

			id := s.genID.Generate()
			claim, err := s.earnings.ClaimForPayout(ctx, tx, practitionerID, id, requested)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			payout = &payoutdomain.Payout{
				ID:              id,
				Reference:       "po_" + ulid.Make().String(),
				PractitionerID:  practitionerID,
				Currency:        s.ledger.Currency,
				RequestedAmount: requested,
				Amount:          claim.Total.Net,
				Gross:           claim.Total.Gross,
				Commission:      claim.Total.Commission,
				Status:          payoutdomain.StatusPending,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.repo.Insert(ctx, tx, payout); err != nil {
				return err
			}

			items := make([]payoutdomain.Item, 0, len(claim.Items))
			for _, claimed := range claim.Items {
				items = append(items, payoutdomain.Item{
					ID:            s.genID.Generate(),
					PayoutID:      id,
					TransactionID: claimed.TransactionID,
					Gross:         claimed.Gross,
					Commission:    claimed.Commission,
					Net:           claimed.Net,
					CreatedAt:     now,
				})
			}
			if err := s.repo.InsertItems(ctx, tx, items); err != nil {
				return err
			}
			payout.Items = items

			s.record(ctx, tx, "payout.created", payout, map[string]any{"items": len(items)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPayout(ctx, string(payoutdomain.StatusPending))
	s.notify(ctx, payout, notificationdomain.EventPayoutCreated)
	s.log.Info("payout created",
		zap.String("payout_id", payout.ID.String()),
		zap.String("reference", payout.Reference),
		zap.String("practitioner_id", practitionerID.String()),
		zap.Int64("amount", payout.Amount),
		zap.Int("items", len(payout.Items)),
	)
	return payout, nil
}

func (s *Service) MarkProcessing(ctx context.Context, id snowflake.ID) (*payoutdomain.Payout, error) {
	return s.mutate(ctx, id, "payout.processing", func(tx *gorm.DB, p *payoutdomain.Payout, now time.Time) (bool, error) {
		switch p.Status {
		case payoutdomain.StatusProcessing:
			return false, nil
		case payoutdomain.StatusPending:
		default:
			return false, transitionErr(p.Status, payoutdomain.StatusProcessing)
		}
		p.Status = payoutdomain.StatusProcessing
		p.ProcessingAt = &now
		return true, nil
	})
}

// CancelPayout returns a pending payout's transactions to available.
func (s *Service) CancelPayout(ctx context.Context, id snowflake.ID, reason string) (*payoutdomain.Payout, error) {
	payout, err := s.mutate(ctx, id, "payout.canceled", func(tx *gorm.DB, p *payoutdomain.Payout, now time.Time) (bool, error) {
		switch p.Status {
		case payoutdomain.StatusCanceled:
			return false, nil
		case payoutdomain.StatusPending:
		default:
			return false, transitionErr(p.Status, payoutdomain.StatusCanceled)
		}
		if _, err := s.earnings.ReleaseFromPayout(ctx, tx, p.PractitionerID, p.ID); err != nil {
			return false, err
		}
		p.Status = payoutdomain.StatusCanceled
		p.FailureReason = strings.TrimSpace(reason)
		p.CanceledAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, payout, notificationdomain.EventPayoutCanceled)
	return payout, nil
}

func (s *Service) CompletePayout(ctx context.Context, id snowflake.ID, transferRef string) (*payoutdomain.Payout, error) {
	transferRef = strings.TrimSpace(transferRef)
	if transferRef == "" {
		return nil, payoutdomain.ErrInvalidRequest
	}
	payout, err := s.mutate(ctx, id, "payout.completed", func(tx *gorm.DB, p *payoutdomain.Payout, now time.Time) (bool, error) {
		switch p.Status {
		case payoutdomain.StatusCompleted:
			if p.TransferRef != nil && *p.TransferRef == transferRef {
				return false, nil
			}
			return false, apperror.Wrapf(payoutdomain.ErrInvalidTransition, "payout.complete",
				"payout %s already completed with another transfer", p.ID)
		case payoutdomain.StatusProcessing:
		default:
			return false, transitionErr(p.Status, payoutdomain.StatusCompleted)
		}
		p.Status = payoutdomain.StatusCompleted
		p.TransferRef = &transferRef
		p.CompletedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, payout, notificationdomain.EventPayoutCompleted)
	return payout, nil
}

// FailPayout records a failed transfer and returns the transactions to
// available. The reason stays on the payout for the practitioner.
func (s *Service) FailPayout(ctx context.Context, id snowflake.ID, reason string) (*payoutdomain.Payout, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "transfer failed"
	}
	payout, err := s.mutate(ctx, id, "payout.failed", func(tx *gorm.DB, p *payoutdomain.Payout, now time.Time) (bool, error) {
		switch p.Status {
		case payoutdomain.StatusFailed:
			return false, nil
		case payoutdomain.StatusProcessing:
		default:
			return false, transitionErr(p.Status, payoutdomain.StatusFailed)
		}
		if _, err := s.earnings.ReleaseFromPayout(ctx, tx, p.PractitionerID, p.ID); err != nil {
			return false, err
		}
		p.Status = payoutdomain.StatusFailed
		p.FailureReason = reason
		p.FailedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, payout, notificationdomain.EventPayoutFailed)
	return payout, nil
}

func (s *Service) mutate(
	ctx context.Context,
	id snowflake.ID,
	action string,
	apply func(tx *gorm.DB, p *payoutdomain.Payout, now time.Time) (bool, error),
) (*payoutdomain.Payout, error) {
	if id == 0 {
		return nil, payoutdomain.ErrInvalidRequest
	}
	var (
		payout  *payoutdomain.Payout
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payout, err = s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if payout == nil {
			return payoutdomain.ErrPayoutNotFound
		}
		now := s.clock.Now()
		changed, err = apply(tx, payout, now)
		if err != nil || !changed {
			return err
		}
		payout.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, payout); err != nil {
			return err
		}
		s.record(ctx, tx, action, payout, map[string]any{"failure_reason": payout.FailureReason})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.obsMetrics.RecordPayout(ctx, string(payout.Status))
		s.log.Info("payout status changed",
			zap.String("payout_id", payout.ID.String()),
			zap.String("status", string(payout.Status)),
		)
	}
	return payout, nil
}

func transitionErr(from, to payoutdomain.Status) error {
	return apperror.Wrapf(payoutdomain.ErrInvalidTransition, "payout.transition", "%s -> %s", from, to)
}

// RunBatch creates a payout for every practitioner whose available balance
// reaches the minimum. One practitioner's failure does not stop the batch.
func (s *Service) RunBatch(ctx context.Context) (payoutdomain.BatchResult, error) {
	var result payoutdomain.BatchResult
	balances, err := s.earnings.ListPayable(ctx, s.ledger.MinimumPayout, 0)
	if err != nil {
		return result, err
	}
	for _, balance := range balances {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		_, err := s.CreatePayout(ctx, balance.PractitionerID, nil)
		switch {
		case err == nil:
			result.Created++
		case apperror.Is(err, apperror.Conflict):
			result.Skipped++
		default:
			result.Failed++
			s.log.Error("batch payout failed",
				zap.String("practitioner_id", balance.PractitionerID.String()),
				zap.Error(err),
			)
		}
	}
	s.log.Info("payout batch finished",
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*payoutdomain.Payout, error) {
	payout, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, payoutdomain.ErrPayoutNotFound
	}
	payout.Items, err = s.repo.ListItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (s *Service) ListByPractitioner(ctx context.Context, practitionerID snowflake.ID, limit int) ([]payoutdomain.Payout, error) {
	if practitionerID == 0 {
		return nil, payoutdomain.ErrInvalidRequest
	}
	if limit <= 0 {
		limit = defaultListSize
	}
	if limit > maxListSize {
		limit = maxListSize
	}
	return s.repo.ListByPractitioner(ctx, s.db, practitionerID, limit)
}

func (s *Service) notify(ctx context.Context, payout *payoutdomain.Payout, eventType string) {
	if s.notifier == nil || payout == nil {
		return
	}
	s.notifier.Notify(ctx,
		notificationdomain.Recipient{Kind: notificationdomain.RecipientPractitioner, ID: payout.PractitionerID.String()},
		eventType,
		map[string]any{
			"payout_id":      payout.ID.String(),
			"reference":      payout.Reference,
			"amount":         payout.Amount,
			"currency":       payout.Currency,
			"status":         string(payout.Status),
			"failure_reason": payout.FailureReason,
		},
	)
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, action string, payout *payoutdomain.Payout, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	metadata["practitioner_id"] = payout.PractitionerID.String()
	metadata["amount"] = payout.Amount
	metadata["status"] = string(payout.Status)
	err := s.audit.Record(ctx, tx, auditdomain.Entry{
		ActorType:  "system",
		Action:     action,
		TargetType: "payout",
		TargetID:   payout.ID.String(),
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
