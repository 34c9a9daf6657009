package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Unit struct {
	ID         int       `gorm:"primary_key" json:"id"`
	ExternalId *string   `gorm:"uniqueIndex;size:64" json:"external_id"`
	ProjectId  int       `gorm:"index;not null" json:"project_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Status     string    `gorm:"size:20;not null;default:'AVAILABLE'" json:"status"`
	Area       string    `gorm:"size:30" json:"area"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetUnitByExternalId(ctx context.Context, db *gorm.DB, externalId string) (*Unit, error) {
	var unit Unit
	err := db.WithContext(ctx).Where("external_id = ?", externalId).Take(&unit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &unit, nil
}
