package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/marketledger/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) FindService(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.Service, error) {
	var svc catalogdomain.Service
	err := db.WithContext(ctx).Where("id = ?", id).First(&svc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (r *repo) FindServices(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (map[snowflake.ID]*catalogdomain.Service, error) {
	out := make(map[snowflake.ID]*catalogdomain.Service, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []*catalogdomain.Service
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *repo) FindPractitioner(ctx context.Context, db *gorm.DB, id snowflake.ID) (*catalogdomain.Practitioner, error) {
	var p catalogdomain.Practitioner
	err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) FindPractitionerByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*catalogdomain.Practitioner, error) {
	var p catalogdomain.Practitioner
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) UpdatePractitionerTier(ctx context.Context, db *gorm.DB, id snowflake.ID, tier string) error {
	return db.WithContext(ctx).Model(&catalogdomain.Practitioner{}).
		Where("id = ?", id).
		Updates(map[string]any{"tier_code": tier, "updated_at": time.Now().UTC()}).Error
}

func (r *repo) FindDiscountCode(ctx context.Context, db *gorm.DB, code string) (*catalogdomain.DiscountCode, error) {
	var d catalogdomain.DiscountCode
	err := db.WithContext(ctx).Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
