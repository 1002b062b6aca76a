package registry

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/fpid/internal/fingerprint"
	"github.com/example/fpid/internal/retry"
)

// IdentityRow is one registry entry in the row-store backend. Rows are
// ordered by their auto-increment ID.
type IdentityRow struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"column:name;size:255;index;not null"`
	ImagePath string    `gorm:"column:image_path;size:1024"`
	Features  [][]int   `gorm:"column:features;type:text;serializer:json"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (IdentityRow) TableName() string {
	return "fingerprint_identities"
}

// GormRegistry stores identities in a SQL table through gorm.
type GormRegistry struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewGormRegistry creates a registry over db.
func NewGormRegistry(db *gorm.DB, logger *zap.Logger) *GormRegistry {
	return &GormRegistry{db: db, logger: logger.Named("gorm_registry"), policy: retry.DefaultPolicy()}
}

// AutoMigrate ensures the schema is available.
func (r *GormRegistry) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&IdentityRow{})
}

func (r *GormRegistry) Load(ctx context.Context) []fingerprint.EnrolledIdentity {
	identities := []fingerprint.EnrolledIdentity{}

	var rows []IdentityRow
	if err := r.db.WithContext(ctx).Order("id asc").Find(&rows).Error; err != nil {
		r.logger.Warn("registry unreadable, treating as empty", zap.Error(err))
		return identities
	}
	for _, row := range rows {
		name, path := row.Name, row.ImagePath
		id, err := record{Name: &name, ImagePath: &path, Features: row.Features}.identity()
		if err != nil {
			r.logger.Warn("skipping invalid registry row", zap.Uint("id", row.ID), zap.Error(err))
			continue
		}
		identities = append(identities, id)
	}
	return identities
}

func (r *GormRegistry) Add(ctx context.Context, identity fingerprint.EnrolledIdentity) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	err := retry.Do(ctx, r.logger, r.policy, "registry.add", "", func() error {
		row := IdentityRow{
			Name:      identity.Name,
			ImagePath: identity.ImagePath,
			Features:  identity.Descriptors.Ints(),
			CreatedAt: time.Now().UTC(),
		}
		return r.db.WithContext(ctx).Create(&row).Error
	})
	if err != nil {
		return &StorageError{Backend: "gorm", Op: "add", Err: err}
	}
	return nil
}

func (r *GormRegistry) Delete(ctx context.Context, name string) ([]fingerprint.EnrolledIdentity, error) {
	var rows []IdentityRow
	err := retry.Do(ctx, r.logger, r.policy, "registry.delete", "", func() error {
		rows = nil
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("name = ?", name).Order("id asc").Find(&rows).Error; err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			return tx.Where("name = ?", name).Delete(&IdentityRow{}).Error
		})
	})
	if err != nil {
		return nil, &StorageError{Backend: "gorm", Op: "delete", Err: err}
	}

	removed := make([]fingerprint.EnrolledIdentity, 0, len(rows))
	for _, row := range rows {
		set, convErr := fingerprint.FromInts(row.Features)
		if convErr != nil {
			set = nil
		}
		removed = append(removed, fingerprint.EnrolledIdentity{Name: row.Name, ImagePath: row.ImagePath, Descriptors: set})
	}
	return removed, nil
}

func (r *GormRegistry) Clear(ctx context.Context) error {
	err := retry.Do(ctx, r.logger, r.policy, "registry.clear", "", func() error {
		return r.db.WithContext(ctx).Where("1 = 1").Delete(&IdentityRow{}).Error
	})
	if err != nil {
		return &StorageError{Backend: "gorm", Op: "clear", Err: err}
	}
	return nil
}
