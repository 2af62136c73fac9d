package models

import (
	"time"

	"gorm.io/gorm"
)

// Record is an entity of a synchronized collection
type Record interface {
	// NaturalKey is the stable identity used in snapshots, never the autoincrement ID
	NaturalKey() string
	GetID() uint
	SetID(id uint)
	IsDeleted() bool
	GetCreatedAt() time.Time
	SetCreatedAt(t time.Time)
	GetUpdatedAt() time.Time
	SetUpdatedAt(t time.Time)
}

// Tracked carries the bookkeeping columns shared by every synchronized entity.
// ID and DeletedAt never leave the database.
type Tracked struct {
	ID        uint           `gorm:"primaryKey" json:"-" yaml:"-"`
	CreatedAt time.Time      `gorm:"index" json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-" yaml:"-"`
}

func (t *Tracked) GetID() uint { return t.ID }

func (t *Tracked) SetID(id uint) { t.ID = id }

// IsDeleted reports the soft-delete flag
func (t *Tracked) IsDeleted() bool { return t.DeletedAt.Valid }

func (t *Tracked) GetCreatedAt() time.Time { return t.CreatedAt }

func (t *Tracked) SetCreatedAt(ts time.Time) { t.CreatedAt = ts }

func (t *Tracked) GetUpdatedAt() time.Time { return t.UpdatedAt }

func (t *Tracked) SetUpdatedAt(ts time.Time) { t.UpdatedAt = ts }
