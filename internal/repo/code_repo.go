package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/exoxegroup/eng-ai/internal/domain"
)

// UpsertCode stores c, replacing any previous code for the same target.
func UpsertCode(ctx context.Context, db *gorm.DB, c *domain.VerificationCode) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "target"}},
		DoUpdates: clause.AssignmentColumns([]string{"code_hash", "issued_at", "expires_at"}),
	}).Create(c).Error
}

// GetCode returns the stored code for target or ErrNotFound.
func GetCode(ctx context.Context, db *gorm.DB, target string) (*domain.VerificationCode, error) {
	var c domain.VerificationCode
	if err := db.WithContext(ctx).Where("target = ?", target).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteCode removes the code for target. Missing rows are not an error.
func DeleteCode(ctx context.Context, db *gorm.DB, target string) error {
	return db.WithContext(ctx).Where("target = ?", target).Delete(&domain.VerificationCode{}).Error
}

// DeleteExpiredCodes removes every code that expired at or before now.
func DeleteExpiredCodes(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.VerificationCode{})
	return res.RowsAffected, res.Error
}
