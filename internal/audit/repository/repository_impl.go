package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/marketledger/internal/audit/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends one audit row. Rows are never updated.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

// List returns at most Limit+1 rows, newest first, so the caller can tell
// whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	match := map[string]any{}
	for column, value := range map[string]string{
		"action":      filter.Action,
		"target_type": filter.TargetType,
		"target_id":   filter.TargetID,
	} {
		if value = strings.TrimSpace(value); value != "" {
			match[column] = value
		}
	}

	stmt := db.WithContext(ctx).Model(&domain.AuditLog{})
	if len(match) > 0 {
		stmt = stmt.Where(match)
	}
	if c := filter.Cursor; c != nil {
		stmt = stmt.Where(
			db.Session(&gorm.Session{NewDB: true}).
				Where("created_at < ?", c.CreatedAt).
				Or("created_at = ? AND id < ?", c.CreatedAt, c.ID),
		)
	}
	stmt = stmt.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "created_at"}, Desc: true},
		{Column: clause.Column{Name: "id"}, Desc: true},
	}})
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var logs []*domain.AuditLog
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
