// Package storage persists parser cookies and media blob hashes.
package storage

import (
	"context"
	"time"

	"github.com/jfk9w-go/flu/apfel"
	"github.com/jfk9w-go/flu/gormf"
	"github.com/jfk9w-go/flu/syncf"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jfk9w/sharebot/internal/media"
)

const ServiceID = "storage.sql"

type Context interface {
	StorageConfig() apfel.GormConfig
}

// Cookie is a persisted per-platform cookie string.
type Cookie struct {
	Platform  string    `gorm:"primaryKey"`
	Cookie    string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (c *Cookie) TableName() string {
	return "cookie"
}

type SQL[C Context] struct {
	*Service
}

func (s *SQL[C]) String() string {
	return ServiceID
}

func (s *SQL[C]) Include(ctx context.Context, app apfel.MixinApp[C]) error {
	if s.Service != nil {
		return nil
	}

	db := &apfel.GormDB[C]{Config: app.Config().StorageConfig()}
	if err := app.Use(ctx, db, false); err != nil {
		return err
	}

	if err := db.DB().WithContext(ctx).AutoMigrate(new(Cookie), new(media.Hash)); err != nil {
		return errors.Wrap(err, "auto migrate")
	}

	s.Service = &Service{
		Clock: app,
		DB:    db.DB(),
	}

	return nil
}

type Service struct {
	Clock syncf.Clock
	DB    *gorm.DB
}

func (s *Service) GetCookie(ctx context.Context, platform string) (string, error) {
	var cookie Cookie
	err := s.DB.WithContext(ctx).
		First(&cookie, "platform = ?", platform).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}

	return cookie.Cookie, err
}

func (s *Service) SaveCookie(ctx context.Context, platform, value string) error {
	cookie := &Cookie{
		Platform:  platform,
		Cookie:    value,
		UpdatedAt: s.Clock.Now(),
	}

	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform"}},
			UpdateAll: true,
		}).
		Create(cookie).
		Error
}

// Check records the blob hash and reports whether it was seen for the
// first time. On conflict the existing row's collision counter grows.
func (s *Service) Check(ctx context.Context, hash *media.Hash) (bool, error) {
	update := clause.Set{
		clause.Assignment{Column: clause.Column{Name: "collisions"}, Value: gorm.Expr("blob.collisions + 1")},
		clause.Assignment{Column: clause.Column{Name: "url"}, Value: hash.URL},
		clause.Assignment{Column: clause.Column{Name: "hash_type"}, Value: hash.Type},
		clause.Assignment{Column: clause.Column{Name: "hash"}, Value: hash.Value},
		clause.Assignment{Column: clause.Column{Name: "last_seen"}, Value: hash.LastSeen},
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(gormf.OnConflictClause(hash, "primaryKey", false, update)).
			Create(hash).
			Error; err != nil {
			return errors.Wrap(err, "create")
		}

		if err := tx.First(hash).Error; err != nil {
			return errors.Wrap(err, "find")
		}

		return nil
	})

	return err == nil && hash.Collisions == 0, err
}
