package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	earningsdomain "github.com/smallbiznis/marketledger/internal/earnings/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() earningsdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *earningsdomain.Transaction) error {
	if err := txn.CheckAmounts(); err != nil {
		return err
	}
	return db.WithContext(ctx).Create(txn).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*earningsdomain.Transaction, error) {
	return findOne(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*earningsdomain.Transaction, error) {
	return findOne(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repo) FindByDedupeKey(ctx context.Context, db *gorm.DB, key string) (*earningsdomain.Transaction, error) {
	return findOne(db.WithContext(ctx).Where("dedupe_key = ?", key))
}

func findOne(query *gorm.DB) (*earningsdomain.Transaction, error) {
	var txn earningsdomain.Transaction
	err := query.First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repo) ListOriginalsByBooking(ctx context.Context, db *gorm.DB, bookingID snowflake.ID) ([]earningsdomain.Transaction, error) {
	var rows []earningsdomain.Transaction
	err := db.WithContext(ctx).
		Where("booking_id = ? AND reversal_of_id IS NULL", bookingID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListOriginalsByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]earningsdomain.Transaction, error) {
	var rows []earningsdomain.Transaction
	err := db.WithContext(ctx).
		Where("order_id = ? AND reversal_of_id IS NULL", orderID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListByPractitioner(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID, limit int) ([]earningsdomain.Transaction, error) {
	var rows []earningsdomain.Transaction
	err := db.WithContext(ctx).
		Where("practitioner_id = ?", practitionerID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListProjectedEnded(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]earningsdomain.Transaction, error) {
	var rows []earningsdomain.Transaction
	err := db.WithContext(ctx).
		Where("status = ? AND end_time <= ? AND reversal_of_id IS NULL", earningsdomain.StatusProjected, now).
		Order("end_time ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListPendingDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]earningsdomain.Transaction, error) {
	var rows []earningsdomain.Transaction
	err := db.WithContext(ctx).
		Where("status = ? AND available_after <= ? AND reversal_of_id IS NULL", earningsdomain.StatusPending, now).
		Order("available_after ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListAvailable returns a practitioner's available originals oldest first.
func (r *repo) ListAvailable(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) ([]earningsdomain.Transaction, error) {
	var rows []earningsdomain.Transaction
	err := db.WithContext(ctx).
		Where("practitioner_id = ? AND status = ? AND reversal_of_id IS NULL", practitionerID, earningsdomain.StatusAvailable).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// UpdateStatus moves ids from one status to another. Rows no longer in from
// are left alone; the affected count tells the caller how many moved.
func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, ids []snowflake.ID, from, to earningsdomain.Status, extra map[string]any) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	result := db.WithContext(ctx).Model(&earningsdomain.Transaction{}).
		Where("id IN ? AND status = ?", ids, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, endTime, availableAfter time.Time) error {
	return db.WithContext(ctx).Model(&earningsdomain.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"end_time":        endTime,
			"available_after": availableAfter,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *repo) ClearPayout(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, now time.Time) (int64, error) {
	result := db.WithContext(ctx).Model(&earningsdomain.Transaction{}).
		Where("payout_id = ? AND status = ?", payoutID, earningsdomain.StatusPaid).
		Updates(map[string]any{
			"status":     earningsdomain.StatusAvailable,
			"payout_id":  nil,
			"paid_at":    nil,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

type amountsRow struct {
	OriginalID snowflake.ID
	Gross      int64
	Commission int64
	Net        int64
}

// SumFamily totals an original and every reversal pointing at it.
func (r *repo) SumFamily(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (earningsdomain.Amounts, error) {
	var row amountsRow
	err := db.WithContext(ctx).Model(&earningsdomain.Transaction{}).
		Select("COALESCE(SUM(gross), 0) AS gross, COALESCE(SUM(commission), 0) AS commission, COALESCE(SUM(net), 0) AS net").
		Where("id = ? OR reversal_of_id = ?", originalID, originalID).
		Scan(&row).Error
	if err != nil {
		return earningsdomain.Amounts{}, err
	}
	return earningsdomain.Amounts{Gross: row.Gross, Commission: row.Commission, Net: row.Net}, nil
}

func (r *repo) SumAdjustments(ctx context.Context, db *gorm.DB, originalIDs []snowflake.ID) (map[snowflake.ID]earningsdomain.Amounts, error) {
	out := make(map[snowflake.ID]earningsdomain.Amounts, len(originalIDs))
	if len(originalIDs) == 0 {
		return out, nil
	}
	var rows []amountsRow
	err := db.WithContext(ctx).Model(&earningsdomain.Transaction{}).
		Select("reversal_of_id AS original_id, SUM(gross) AS gross, SUM(commission) AS commission, SUM(net) AS net").
		Where("reversal_of_id IN ?", originalIDs).
		Group("reversal_of_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.OriginalID] = earningsdomain.Amounts{Gross: row.Gross, Commission: row.Commission, Net: row.Net}
	}
	return out, nil
}

type statusRow struct {
	Status earningsdomain.Status
	Net    int64
}

// SumNetByStatus groups every row's net by the status of its original, so a
// partial reversal lowers the bucket its original sits in.
func (r *repo) SumNetByStatus(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (map[earningsdomain.Status]int64, error) {
	var rows []statusRow
	err := db.WithContext(ctx).Raw(
		`SELECT o.status AS status, COALESCE(SUM(t.net), 0) AS net
		 FROM earnings_transactions t
		 JOIN earnings_transactions o ON o.id = COALESCE(t.reversal_of_id, t.id)
		 WHERE t.practitioner_id = ?
		 GROUP BY o.status`,
		practitionerID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[earningsdomain.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Net
	}
	return out, nil
}

func (r *repo) GetBalance(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*earningsdomain.Balance, error) {
	var balance earningsdomain.Balance
	err := db.WithContext(ctx).Where("practitioner_id = ?", practitionerID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repo) LockBalance(ctx context.Context, db *gorm.DB, practitionerID snowflake.ID) (*earningsdomain.Balance, error) {
	seed := earningsdomain.Balance{PractitionerID: practitionerID, UpdatedAt: time.Now().UTC()}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}
	var balance earningsdomain.Balance
	if err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("practitioner_id = ?", practitionerID).
		First(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repo) SaveBalance(ctx context.Context, db *gorm.DB, balance *earningsdomain.Balance) error {
	return db.WithContext(ctx).Model(&earningsdomain.Balance{}).
		Where("practitioner_id = ?", balance.PractitionerID).
		Updates(map[string]any{
			"projected":        balance.Projected,
			"pending":          balance.Pending,
			"available":        balance.Available,
			"lifetime_earned":  balance.LifetimeEarned,
			"lifetime_payouts": balance.LifetimePayouts,
			"version":          balance.Version,
			"updated_at":       balance.UpdatedAt,
		}).Error
}

// ListPayable returns balances whose available amount reaches minimum.
func (r *repo) ListPayable(ctx context.Context, db *gorm.DB, minimum int64, limit int) ([]earningsdomain.Balance, error) {
	var rows []earningsdomain.Balance
	err := db.WithContext(ctx).
		Where("available >= ? AND available > 0", minimum).
		Order("practitioner_id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
