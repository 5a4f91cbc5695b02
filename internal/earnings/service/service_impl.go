package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/marketledger/internal/apperror"
	auditdomain "github.com/smallbiznis/marketledger/internal/audit/domain"
	"github.com/smallbiznis/marketledger/internal/clock"
	commissiondomain "github.com/smallbiznis/marketledger/internal/commission/domain"
	"github.com/smallbiznis/marketledger/internal/config"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	obsmetrics "github.com/smallbiznis/marketledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sweepBatchSize  = 1000
	defaultListSize = 50
	maxListSize     = 500
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       earningsdomain.Repository
	Commission commissiondomain.Service
	Clock      clock.Clock
	Ledger     config.LedgerConfig
	Audit      auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       earningsdomain.Repository
	commission commissiondomain.Service
	clock      clock.Clock
	ledger     config.LedgerConfig
	audit      auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) earningsdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("earnings.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		commission: p.Commission,
		clock:      p.Clock,
		ledger:     p.Ledger,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
	}
}

// CreateForBooking records the projected earnings of one booking. A second
// call for the same booking returns the first transaction.
func (s *Service) CreateForBooking(ctx context.Context, tx *gorm.DB, in earningsdomain.CreateInput) (*earningsdomain.Transaction, error) {
	if in.PractitionerID == 0 || in.BookingID == 0 || in.OrderID == 0 {
		return nil, earningsdomain.ErrInvalidInput
	}
	if in.Gross < 0 || strings.TrimSpace(in.Category) == "" || in.EndTime.IsZero() {
		return nil, earningsdomain.ErrInvalidInput
	}

	bookingID := in.BookingID
	return s.create(ctx, tx, earningsdomain.PendingInput{
		PractitionerID: in.PractitionerID,
		BookingID:      &bookingID,
		OrderID:        in.OrderID,
		Category:       in.Category,
		Gross:          in.Gross,
		EndTime:        in.EndTime,
		Kind:           earningsdomain.KindBooking,
		DedupeKey:      "booking:" + in.BookingID.String(),
	}, earningsdomain.StatusProjected)
}

// CreatePending records earnings for work that has already been delivered.
func (s *Service) CreatePending(ctx context.Context, tx *gorm.DB, in earningsdomain.PendingInput) (*earningsdomain.Transaction, error) {
	if in.PractitionerID == 0 || in.OrderID == 0 || in.Gross < 0 || in.EndTime.IsZero() {
		return nil, earningsdomain.ErrInvalidInput
	}
	if strings.TrimSpace(in.Category) == "" || strings.TrimSpace(in.DedupeKey) == "" {
		return nil, earningsdomain.ErrInvalidInput
	}
	if in.Kind == "" {
		in.Kind = earningsdomain.KindPackageDelta
	}
	if in.Kind.IsReversal() {
		return nil, earningsdomain.ErrInvalidInput
	}
	return s.create(ctx, tx, in, earningsdomain.StatusPending)
}

func (s *Service) create(ctx context.Context, tx *gorm.DB, in earningsdomain.PendingInput, status earningsdomain.Status) (*earningsdomain.Transaction, error) {
	key := strings.TrimSpace(in.DedupeKey)
	existing, err := s.repo.FindByDedupeKey(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	rate, err := s.commission.EffectiveRateTx(ctx, tx, in.PractitionerID, in.Category)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.LockBalance(ctx, tx, in.PractitionerID); err != nil {
		return nil, err
	}

	commission, net := commissiondomain.Split(in.Gross, rate.Bps)
	now := s.clock.Now()
	txn := earningsdomain.Transaction{
		ID:             s.genID.Generate(),
		PractitionerID: in.PractitionerID,
		OrderID:        in.OrderID,
		BookingID:      in.BookingID,
		Kind:           in.Kind,
		Category:       strings.ToLower(strings.TrimSpace(in.Category)),
		Gross:          in.Gross,
		RateBps:        rate.Bps,
		Commission:     commission,
		Net:            net,
		Status:         status,
		EndTime:        in.EndTime.UTC(),
		AvailableAfter: in.EndTime.UTC().Add(s.ledger.HoldWindow),
		DedupeKey:      key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, tx, &txn); err != nil {
		return nil, err
	}
	if _, err := s.Recompute(ctx, tx, in.PractitionerID); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordEarningsTransition(ctx, string(status), 1)
	s.log.Info("earnings transaction created",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("practitioner_id", txn.PractitionerID.String()),
		zap.String("order_id", txn.OrderID.String()),
		zap.String("kind", string(txn.Kind)),
		zap.String("status", string(status)),
		zap.Int64("gross", txn.Gross),
		zap.Int64("commission", txn.Commission),
		zap.Int64("net", txn.Net),
	)
	return &txn, nil
}

func (s *Service) TransitionToPending(ctx context.Context, id snowflake.ID) error {
	moved := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := s.repo.LockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if txn == nil {
			return earningsdomain.ErrTransactionAbsent
		}
		if txn.Status != earningsdomain.StatusProjected {
			return nil
		}
		if _, err := s.repo.LockBalance(ctx, tx, txn.PractitionerID); err != nil {
			return err
		}
		n, err := s.repo.UpdateStatus(ctx, tx, []snowflake.ID{id},
			earningsdomain.StatusProjected, earningsdomain.StatusPending, nil)
		if err != nil {
			return err
		}
		moved = int(n)
		_, err = s.Recompute(ctx, tx, txn.PractitionerID)
		return err
	})
	if err != nil {
		return err
	}
	s.obsMetrics.RecordEarningsTransition(ctx, string(earningsdomain.StatusPending), moved)
	return nil
}

// HandleBookingCompleted moves the booking's projected earnings to pending
// and restarts the hold window from the actual end time.
func (s *Service) HandleBookingCompleted(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID, endTime time.Time) (int, error) {
	if bookingID == 0 || endTime.IsZero() {
		return 0, earningsdomain.ErrInvalidInput
	}
	originals, err := s.repo.ListOriginalsByBooking(ctx, tx, bookingID)
	if err != nil {
		return 0, err
	}

	moved := 0
	touched := map[snowflake.ID]struct{}{}
	for _, txn := range originals {
		if txn.Status != earningsdomain.StatusProjected {
			continue
		}
		if _, ok := touched[txn.PractitionerID]; !ok {
			if _, err := s.repo.LockBalance(ctx, tx, txn.PractitionerID); err != nil {
				return 0, err
			}
			touched[txn.PractitionerID] = struct{}{}
		}
		end := endTime.UTC()
		if err := s.repo.UpdateSchedule(ctx, tx, txn.ID, end, end.Add(s.ledger.HoldWindow)); err != nil {
			return 0, err
		}
		n, err := s.repo.UpdateStatus(ctx, tx, []snowflake.ID{txn.ID},
			earningsdomain.StatusProjected, earningsdomain.StatusPending, nil)
		if err != nil {
			return 0, err
		}
		moved += int(n)
	}
	for practitionerID := range touched {
		if _, err := s.Recompute(ctx, tx, practitionerID); err != nil {
			return 0, err
		}
	}

	if moved > 0 {
		s.obsMetrics.RecordEarningsTransition(ctx, string(earningsdomain.StatusPending), moved)
		s.log.Info("booking earnings moved to pending",
			zap.String("booking_id", bookingID.String()),
			zap.Int("count", moved),
		)
	}
	return moved, nil
}

// HandleBookingCanceled reverses every live transaction of the booking.
func (s *Service) HandleBookingCanceled(ctx context.Context, tx *gorm.DB, bookingID snowflake.ID, reason string) (int, error) {
	if bookingID == 0 {
		return 0, earningsdomain.ErrInvalidInput
	}
	originals, err := s.repo.ListOriginalsByBooking(ctx, tx, bookingID)
	if err != nil {
		return 0, err
	}
	reversed := 0
	for _, txn := range originals {
		if txn.Status == earningsdomain.StatusReversed {
			continue
		}
		if _, err := s.Reverse(ctx, tx, txn.ID, reason); err != nil {
			return reversed, err
		}
		reversed++
	}
	return reversed, nil
}

// MatureDelivered moves projected transactions whose booking has ended into
// pending, for bookings the scheduling side never reported as completed.
func (s *Service) MatureDelivered(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.repo.ListProjectedEnded(ctx, s.db, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	moved, err := s.sweep(ctx, rows, earningsdomain.StatusProjected, earningsdomain.StatusPending, nil)
	if moved > 0 {
		s.obsMetrics.RecordEarningsTransition(ctx, string(earningsdomain.StatusPending), moved)
		s.log.Info("delivered earnings matured", zap.Int("count", moved))
	}
	return moved, err
}

// ReleaseAvailable moves pending transactions past their hold window into
// available.
func (s *Service) ReleaseAvailable(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.repo.ListPendingDue(ctx, s.db, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	moved, err := s.sweep(ctx, rows, earningsdomain.StatusPending, earningsdomain.StatusAvailable,
		map[string]any{"released_at": now})
	if moved > 0 {
		s.obsMetrics.RecordEarningsTransition(ctx, string(earningsdomain.StatusAvailable), moved)
		s.log.Info("pending earnings released", zap.Int("count", moved))
	}
	return moved, err
}

// sweep applies one status move per practitioner, each in its own
// transaction with the balance row locked.
func (s *Service) sweep(ctx context.Context, rows []earningsdomain.Transaction, from, to earningsdomain.Status, extra map[string]any) (int, error) {
	groups := map[snowflake.ID][]snowflake.ID{}
	for _, row := range rows {
		groups[row.PractitionerID] = append(groups[row.PractitionerID], row.ID)
	}
	practitioners := make([]snowflake.ID, 0, len(groups))
	for id := range groups {
		practitioners = append(practitioners, id)
	}
	sort.Slice(practitioners, func(i, j int) bool { return practitioners[i] < practitioners[j] })

	moved := 0
	for _, practitionerID := range practitioners {
		ids := groups[practitionerID]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.repo.LockBalance(ctx, tx, practitionerID); err != nil {
				return err
			}
			n, err := s.repo.UpdateStatus(ctx, tx, ids, from, to, extra)
			if err != nil {
				return err
			}
			if _, err := s.Recompute(ctx, tx, practitionerID); err != nil {
				return err
			}
			moved += int(n)
			return nil
		})
		if err != nil {
			s.log.Error("earnings sweep failed",
				zap.String("practitioner_id", practitionerID.String()),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
				zap.Error(err),
			)
			return moved, err
		}
	}
	return moved, nil
}

// Reverse negates whatever remains of a transaction after earlier partial
// reversals and marks the original reversed. Reversing twice is a no-op.
func (s *Service) Reverse(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string) (*earningsdomain.Transaction, error) {
	original, err := s.lockReversible(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	key := "reversal:" + id.String()
	if original.Status == earningsdomain.StatusReversed {
		existing, err := s.repo.FindByDedupeKey(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		return nil, apperror.Wrapf(earningsdomain.ErrBalanceInvariant, "earnings.reverse",
			"transaction %s reversed without a reversal row", id)
	}

	if _, err := s.repo.LockBalance(ctx, tx, original.PractitionerID); err != nil {
		return nil, err
	}
	remaining, err := s.repo.SumFamily(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	reversal := s.newReversal(original, earningsdomain.KindReversal, remaining.Negate(), key, reason, now)
	if err := s.repo.Insert(ctx, tx, &reversal); err != nil {
		return nil, err
	}
	n, err := s.repo.UpdateStatus(ctx, tx, []snowflake.ID{id}, original.Status, earningsdomain.StatusReversed,
		map[string]any{"reversed_at": now})
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, apperror.Wrapf(earningsdomain.ErrBalanceInvariant, "earnings.reverse",
			"transaction %s changed status during reversal", id)
	}
	if _, err := s.Recompute(ctx, tx, original.PractitionerID); err != nil {
		return nil, err
	}

	s.record(ctx, tx, "earnings.reversed", original, map[string]any{
		"previous_status": string(original.Status),
		"net":             remaining.Net,
		"reason":          reason,
	})
	s.obsMetrics.RecordEarningsTransition(ctx, string(earningsdomain.StatusReversed), 1)
	s.log.Info("earnings transaction reversed",
		zap.String("transaction_id", id.String()),
		zap.String("practitioner_id", original.PractitionerID.String()),
		zap.String("previous_status", string(original.Status)),
		zap.Int64("net", remaining.Net),
	)
	return &reversal, nil
}

// ReversePartial takes gross off a transaction at the original rate. A portion
// that reaches the remaining gross becomes a full reversal. It returns nil
// when the original is already fully reversed.
func (s *Service) ReversePartial(ctx context.Context, tx *gorm.DB, id snowflake.ID, gross int64, dedupeKey, reason string) (*earningsdomain.Transaction, error) {
	dedupeKey = strings.TrimSpace(dedupeKey)
	if gross <= 0 || dedupeKey == "" {
		return nil, earningsdomain.ErrInvalidInput
	}
	existing, err := s.repo.FindByDedupeKey(ctx, tx, dedupeKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	original, err := s.lockReversible(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if original.Status == earningsdomain.StatusReversed {
		return nil, nil
	}

	if _, err := s.repo.LockBalance(ctx, tx, original.PractitionerID); err != nil {
		return nil, err
	}
	remaining, err := s.repo.SumFamily(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if gross >= remaining.Gross {
		return s.Reverse(ctx, tx, id, reason)
	}

	commission, net := commissiondomain.Split(gross, original.RateBps)
	if net > remaining.Net {
		net = remaining.Net
		commission = gross - net
	}
	part := earningsdomain.Amounts{Gross: gross, Commission: commission, Net: net}

	reversal := s.newReversal(original, earningsdomain.KindPartialReversal, part.Negate(), dedupeKey, reason, s.clock.Now())
	if err := s.repo.Insert(ctx, tx, &reversal); err != nil {
		return nil, err
	}
	if _, err := s.Recompute(ctx, tx, original.PractitionerID); err != nil {
		return nil, err
	}

	s.record(ctx, tx, "earnings.partially_reversed", original, map[string]any{
		"gross":  gross,
		"net":    net,
		"reason": reason,
	})
	s.log.Info("earnings transaction partially reversed",
		zap.String("transaction_id", id.String()),
		zap.Int64("gross", gross),
		zap.Int64("net", net),
	)
	return &reversal, nil
}

func (s *Service) lockReversible(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*earningsdomain.Transaction, error) {
	original, err := s.repo.LockByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, earningsdomain.ErrTransactionAbsent
	}
	if original.Kind.IsReversal() {
		return nil, earningsdomain.ErrNotReversible
	}
	if original.Status == earningsdomain.StatusPaid {
		return nil, apperror.Wrapf(earningsdomain.ErrAlreadyPaid, "earnings.reverse",
			"transaction %s belongs to a payout", id)
	}
	return original, nil
}

func (s *Service) newReversal(original *earningsdomain.Transaction, kind earningsdomain.Kind, amounts earningsdomain.Amounts, key, reason string, now time.Time) earningsdomain.Transaction {
	originalID := original.ID
	return earningsdomain.Transaction{
		ID:             s.genID.Generate(),
		PractitionerID: original.PractitionerID,
		OrderID:        original.OrderID,
		BookingID:      original.BookingID,
		Kind:           kind,
		Category:       original.Category,
		Gross:          amounts.Gross,
		RateBps:        original.RateBps,
		Commission:     amounts.Commission,
		Net:            amounts.Net,
		Status:         earningsdomain.StatusReversed,
		EndTime:        original.EndTime,
		AvailableAfter: original.AvailableAfter,
		ReversalOfID:   &originalID,
		DedupeKey:      key,
		Reason:         strings.TrimSpace(reason),
		ReversedAt:     &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *Service) ListByOrder(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) ([]earningsdomain.Transaction, error) {
	if orderID == 0 {
		return nil, earningsdomain.ErrInvalidInput
	}
	return s.repo.ListOriginalsByOrder(ctx, tx, orderID)
}

func (s *Service) ListByPractitioner(ctx context.Context, practitionerID snowflake.ID, limit int) ([]earningsdomain.Transaction, error) {
	if practitionerID == 0 {
		return nil, earningsdomain.ErrInvalidInput
	}
	if limit <= 0 {
		limit = defaultListSize
	}
	if limit > maxListSize {
		limit = maxListSize
	}
	return s.repo.ListByPractitioner(ctx, s.db, practitionerID, limit)
}

// ClaimForPayout marks available transactions paid, oldest first, until the
// claimed net reaches target. Transactions are never split, so the claim can
// overshoot target by part of the last one. The caller holds the balance
// lock.
func (s *Service) ClaimForPayout(ctx context.Context, tx *gorm.DB, practitionerID, payoutID snowflake.ID, target *int64) (*earningsdomain.PayoutClaim, error) {
	if practitionerID == 0 || payoutID == 0 {
		return nil, earningsdomain.ErrInvalidInput
	}
	if target != nil && *target <= 0 {
		return nil, earningsdomain.ErrInvalidInput
	}

	available, err := s.repo.ListAvailable(ctx, tx, practitionerID)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(available))
	for _, txn := range available {
		ids = append(ids, txn.ID)
	}
	adjustments, err := s.repo.SumAdjustments(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	claim := &earningsdomain.PayoutClaim{}
	claimed := make([]snowflake.ID, 0, len(available))
	for _, txn := range available {
		if target != nil && claim.Total.Net >= *target {
			break
		}
		amounts := earningsdomain.Amounts{Gross: txn.Gross, Commission: txn.Commission, Net: txn.Net}.
			Add(adjustments[txn.ID])
		claim.Items = append(claim.Items, earningsdomain.ClaimedItem{TransactionID: txn.ID, Amounts: amounts})
		claim.Total = claim.Total.Add(amounts)
		claimed = append(claimed, txn.ID)
	}
	if len(claimed) == 0 || claim.Total.Net <= 0 {
		return nil, earningsdomain.ErrNothingToPay
	}

	n, err := s.repo.UpdateStatus(ctx, tx, claimed, earningsdomain.StatusAvailable, earningsdomain.StatusPaid,
		map[string]any{"payout_id": payoutID, "paid_at": s.clock.Now()})
	if err != nil {
		return nil, err
	}
	if int(n) != len(claimed) {
		return nil, apperror.Wrapf(earningsdomain.ErrBalanceInvariant, "earnings.claim",
			"claimed %d of %d available transactions", n, len(claimed))
	}
	if _, err := s.Recompute(ctx, tx, practitionerID); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordEarningsTransition(ctx, string(earningsdomain.StatusPaid), len(claimed))
	return claim, nil
}

// ReleaseFromPayout returns a payout's transactions to available.
func (s *Service) ReleaseFromPayout(ctx context.Context, tx *gorm.DB, practitionerID, payoutID snowflake.ID) (int, error) {
	if practitionerID == 0 || payoutID == 0 {
		return 0, earningsdomain.ErrInvalidInput
	}
	if _, err := s.repo.LockBalance(ctx, tx, practitionerID); err != nil {
		return 0, err
	}
	n, err := s.repo.ClearPayout(ctx, tx, payoutID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	if _, err := s.Recompute(ctx, tx, practitionerID); err != nil {
		return 0, err
	}
	s.obsMetrics.RecordEarningsTransition(ctx, string(earningsdomain.StatusAvailable), int(n))
	return int(n), nil
}

func (s *Service) LockBalance(ctx context.Context, tx *gorm.DB, practitionerID snowflake.ID) (*earningsdomain.Balance, error) {
	if practitionerID == 0 {
		return nil, earningsdomain.ErrInvalidInput
	}
	return s.repo.LockBalance(ctx, tx, practitionerID)
}

// Recompute rebuilds the balance buckets from the transactions. The reversed
// bucket must net to zero and no bucket may go negative.
func (s *Service) Recompute(ctx context.Context, tx *gorm.DB, practitionerID snowflake.ID) (*earningsdomain.Balance, error) {
	balance, err := s.LockBalance(ctx, tx, practitionerID)
	if err != nil {
		return nil, err
	}
	sums, err := s.repo.SumNetByStatus(ctx, tx, practitionerID)
	if err != nil {
		return nil, err
	}

	if sums[earningsdomain.StatusReversed] != 0 {
		return nil, apperror.Wrapf(earningsdomain.ErrBalanceInvariant, "earnings.recompute",
			"reversed transactions net to %d", sums[earningsdomain.StatusReversed])
	}
	next := earningsdomain.Balance{
		PractitionerID:  practitionerID,
		Projected:       sums[earningsdomain.StatusProjected],
		Pending:         sums[earningsdomain.StatusPending],
		Available:       sums[earningsdomain.StatusAvailable],
		LifetimePayouts: sums[earningsdomain.StatusPaid],
	}
	next.LifetimeEarned = next.Pending + next.Available + next.LifetimePayouts
	if next.Projected < 0 || next.Pending < 0 || next.Available < 0 || next.LifetimePayouts < 0 {
		return nil, apperror.Wrapf(earningsdomain.ErrBalanceInvariant, "earnings.recompute",
			"negative bucket for practitioner %s", practitionerID)
	}

	if next.Projected == balance.Projected && next.Pending == balance.Pending &&
		next.Available == balance.Available && next.LifetimeEarned == balance.LifetimeEarned &&
		next.LifetimePayouts == balance.LifetimePayouts {
		return balance, nil
	}
	next.Version = balance.Version + 1
	next.UpdatedAt = s.clock.Now()
	if err := s.repo.SaveBalance(ctx, tx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// GetBalance reads the cached balance. A practitioner without earnings gets a
// zero balance.
func (s *Service) GetBalance(ctx context.Context, practitionerID snowflake.ID) (*earningsdomain.Balance, error) {
	if practitionerID == 0 {
		return nil, earningsdomain.ErrInvalidInput
	}
	balance, err := s.repo.GetBalance(ctx, s.db, practitionerID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return &earningsdomain.Balance{PractitionerID: practitionerID}, nil
	}
	return balance, nil
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, action string, txn *earningsdomain.Transaction, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	metadata["practitioner_id"] = txn.PractitionerID.String()
	metadata["order_id"] = txn.OrderID.String()
	err := s.audit.Record(ctx, tx, auditdomain.Entry{
		ActorType:  "system",
		Action:     action,
		TargetType: "earnings_transaction",
		TargetID:   txn.ID.String(),
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) ListPayable(ctx context.Context, minimum int64, limit int) ([]earningsdomain.Balance, error) {
	if limit <= 0 {
		limit = sweepBatchSize
	}
	return s.repo.ListPayable(ctx, s.db, minimum, limit)
}
