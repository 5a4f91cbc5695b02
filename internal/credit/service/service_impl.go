package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	"github.com/smallbiznis/marketledger/internal/clock"
	creditdomain "github.com/smallbiznis/marketledger/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/marketledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	expiryBatchSize   = 500
	defaultHistoryLen = 50
	maxHistoryLen     = 500
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       creditdomain.Repository
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       creditdomain.Repository
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      p.Clock,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (int64, error) {
	return s.BalanceTx(ctx, s.db, userID)
}

// BalanceTx reads the cached balance through tx. Lots past their expiry are
// expired first, so an expired lot never counts toward the balance.
func (s *Service) BalanceTx(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, creditdomain.ErrInvalidUser
	}
	now := s.clock.Now()
	due, err := s.repo.ListExpiredLots(ctx, tx, userID, now, 1)
	if err != nil {
		return 0, err
	}
	if len(due) > 0 {
		var amount int64
		err := tx.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
			balance, err := s.repo.LockBalance(ctx, inner, userID)
			if err != nil {
				return err
			}
			if _, err := s.expireDue(ctx, inner, balance, now); err != nil {
				return err
			}
			amount = balance.Amount
			return nil
		})
		if err != nil {
			return 0, err
		}
		return amount, nil
	}

	balance, err := s.repo.GetBalance(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}
	return balance.Amount, nil
}

func (s *Service) Append(ctx context.Context, in creditdomain.AppendInput) (snowflake.ID, error) {
	var id snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = s.AppendTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AppendTx writes one entry and the balance cache inside the caller's
// transaction. A repeated idempotency key returns the first entry's id.
func (s *Service) AppendTx(ctx context.Context, tx *gorm.DB, in creditdomain.AppendInput) (snowflake.ID, error) {
	if err := validateAppend(in); err != nil {
		return 0, err
	}

	balance, err := s.repo.LockBalance(ctx, tx, in.UserID)
	if err != nil {
		return 0, err
	}
	if _, err := s.expireDue(ctx, tx, balance, s.clock.Now()); err != nil {
		return 0, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, tx, in.UserID, key)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return existing.ID, nil
		}
	}
	return s.insertEntry(ctx, tx, balance, in, key)
}

// insertEntry writes in against a balance row already locked by tx.
func (s *Service) insertEntry(ctx context.Context, tx *gorm.DB, balance *creditdomain.Balance, in creditdomain.AppendInput, key string) (snowflake.ID, error) {
	next := balance.Amount + in.Amount
	if next < 0 {
		switch in.Type {
		case creditdomain.EntryTypeUsage, creditdomain.EntryTypeTransfer:
			return 0, apperror.Wrapf(creditdomain.ErrInsufficientCredit, "credit.append",
				"balance %d, debit %d", balance.Amount, -in.Amount)
		default:
			return 0, apperror.Wrapf(creditdomain.ErrNegativeBalance, "credit.append",
				"%s entry of %d on balance %d", in.Type, in.Amount, balance.Amount)
		}
	}

	now := s.clock.Now()
	entry := creditdomain.Entry{
		ID:               s.genID.Generate(),
		UserID:           in.UserID,
		Amount:           in.Amount,
		Type:             in.Type,
		OrderID:          in.OrderID,
		BookingID:        in.BookingID,
		ServiceID:        in.ServiceID,
		PractitionerID:   in.PractitionerID,
		CounterpartyID:   in.CounterpartyID,
		ReferenceEntryID: in.ReferenceEntryID,
		Reason:           strings.TrimSpace(in.Reason),
		ExpiresAt:        in.ExpiresAt,
		CreatedAt:        now,
	}
	if key != "" {
		entry.IdempotencyKey = &key
	}
	if err := s.repo.InsertEntry(ctx, tx, &entry); err != nil {
		return 0, err
	}

	balance.Amount = next
	balance.Version++
	balance.UpdatedAt = now
	if err := s.repo.SaveBalance(ctx, tx, balance); err != nil {
		return 0, err
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(in.Type))
	s.log.Debug("credit entry appended",
		zap.String("user_id", in.UserID.String()),
		zap.String("type", string(in.Type)),
		zap.Int64("amount", in.Amount),
		zap.Int64("balance", next),
	)
	return entry.ID, nil
}

// Transfer moves amount between two users in one transaction. Balance rows
// are locked in id order so opposite transfers cannot deadlock.
func (s *Service) Transfer(ctx context.Context, in creditdomain.TransferInput) (creditdomain.TransferResult, error) {
	if in.FromUserID == 0 || in.ToUserID == 0 {
		return creditdomain.TransferResult{}, creditdomain.ErrInvalidUser
	}
	if in.FromUserID == in.ToUserID {
		return creditdomain.TransferResult{}, creditdomain.ErrSameAccount
	}
	if in.Amount <= 0 {
		return creditdomain.TransferResult{}, creditdomain.ErrInvalidAmount
	}

	var result creditdomain.TransferResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		first, second := in.FromUserID, in.ToUserID
		if second < first {
			first, second = second, first
		}
		if _, err := s.repo.LockBalance(ctx, tx, first); err != nil {
			return err
		}
		if _, err := s.repo.LockBalance(ctx, tx, second); err != nil {
			return err
		}

		debitKey, creditKey := "", ""
		if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
			debitKey = "transfer:" + key + ":debit"
			creditKey = "transfer:" + key + ":credit"
		}

		to, from := in.ToUserID, in.FromUserID
		debitID, err := s.AppendTx(ctx, tx, creditdomain.AppendInput{
			UserID:         in.FromUserID,
			Amount:         -in.Amount,
			Type:           creditdomain.EntryTypeTransfer,
			CounterpartyID: &to,
			IdempotencyKey: debitKey,
			Reason:         in.Reason,
		})
		if err != nil {
			return err
		}
		debit := debitID
		creditID, err := s.AppendTx(ctx, tx, creditdomain.AppendInput{
			UserID:           in.ToUserID,
			Amount:           in.Amount,
			Type:             creditdomain.EntryTypeTransfer,
			CounterpartyID:   &from,
			ReferenceEntryID: &debit,
			IdempotencyKey:   creditKey,
			Reason:           in.Reason,
		})
		if err != nil {
			return err
		}
		result = creditdomain.TransferResult{DebitEntryID: debitID, CreditEntryID: creditID}
		return nil
	})
	if err != nil {
		return creditdomain.TransferResult{}, err
	}

	s.log.Info("credits transferred",
		zap.String("from_user_id", in.FromUserID.String()),
		zap.String("to_user_id", in.ToUserID.String()),
		zap.Int64("amount", in.Amount),
	)
	return result, nil
}

// Recompute rebuilds the cache from the entries and returns the sum. A
// divergent cache is logged at error level before it is overwritten.
func (s *Service) Recompute(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, creditdomain.ErrInvalidUser
	}
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.repo.LockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		total, err = s.repo.SumEntries(ctx, tx, userID)
		if err != nil {
			return err
		}
		if total < 0 {
			return apperror.Wrapf(creditdomain.ErrNegativeBalance, "credit.recompute", "entries sum to %d", total)
		}
		if total == balance.Amount {
			return nil
		}
		s.log.Error("credit balance cache diverged from entries",
			zap.String("user_id", userID.String()),
			zap.Int64("cached", balance.Amount),
			zap.Int64("entries", total),
		)
		balance.Amount = total
		balance.Version++
		balance.UpdatedAt = s.clock.Now()
		return s.repo.SaveBalance(ctx, tx, balance)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// ExpireCredits closes lots whose expiry has passed, one transaction per
// user. Balance reads and appends expire a user's lots on their own, so the
// sweep only catches users who have been idle.
func (s *Service) ExpireCredits(ctx context.Context, now time.Time) (int, error) {
	lots, err := s.repo.ListExpiredLots(ctx, s.db, 0, now, expiryBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	seen := make(map[snowflake.ID]struct{}, len(lots))
	for _, lot := range lots {
		userID := lot.UserID
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.repo.LockBalance(ctx, tx, userID)
			if err != nil {
				return err
			}
			n, err := s.expireDue(ctx, tx, balance, now)
			expired += n
			return err
		})
		if err != nil {
			s.log.Error("credit lot expiry failed",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
			return expired, err
		}
	}
	return expired, nil
}

// expireDue expires every lot of balance's user that is past its expiry.
// Each lot yields an expiry entry for whatever the user still holds, capped
// at the lot amount. The caller holds the balance row lock.
func (s *Service) expireDue(ctx context.Context, tx *gorm.DB, balance *creditdomain.Balance, now time.Time) (int, error) {
	lots, err := s.repo.ListExpiredLots(ctx, tx, balance.UserID, now, expiryBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, lot := range lots {
		remaining := lot.Amount
		if balance.Amount < remaining {
			remaining = balance.Amount
		}

		exp := creditdomain.Expiration{
			LotEntryID:  lot.ID,
			UserID:      lot.UserID,
			Amount:      remaining,
			ProcessedAt: now,
		}
		if remaining > 0 {
			lotID := lot.ID
			entryID, err := s.insertEntry(ctx, tx, balance, creditdomain.AppendInput{
				UserID:           lot.UserID,
				Amount:           -remaining,
				Type:             creditdomain.EntryTypeExpiry,
				ReferenceEntryID: &lotID,
				Reason:           "credit lot expired",
			}, "expiry:"+lot.ID.String())
			if err != nil {
				return expired, err
			}
			exp.ExpiryEntryID = &entryID
		}

		inserted, err := s.repo.InsertExpiration(ctx, tx, &exp)
		if err != nil {
			return expired, err
		}
		if inserted && remaining > 0 {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) History(ctx context.Context, userID snowflake.ID, limit int) ([]*creditdomain.Entry, error) {
	if userID == 0 {
		return nil, creditdomain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = defaultHistoryLen
	}
	if limit > maxHistoryLen {
		limit = maxHistoryLen
	}
	return s.repo.ListEntries(ctx, s.db, userID, limit)
}

func validateAppend(in creditdomain.AppendInput) error {
	if in.UserID == 0 {
		return creditdomain.ErrInvalidUser
	}
	if in.Amount == 0 {
		return creditdomain.ErrInvalidAmount
	}
	if !in.Type.Valid() {
		return creditdomain.ErrInvalidEntryType
	}
	switch in.Type {
	case creditdomain.EntryTypeUsage, creditdomain.EntryTypeExpiry:
		if in.Amount > 0 {
			return creditdomain.ErrInvalidAmount
		}
	case creditdomain.EntryTypePurchase, creditdomain.EntryTypeBonus:
		if in.Amount < 0 {
			return creditdomain.ErrInvalidAmount
		}
	}
	return nil
}
