package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/utils"
	"gorm.io/gorm"
)

type Customer struct {
	ID            int        `gorm:"primary_key" json:"id"`
	ExternalId    *string    `gorm:"uniqueIndex;size:64" json:"external_id"`
	Name          string     `gorm:"size:150;not null" json:"name"`
	Email         string     `gorm:"size:150" json:"email"`
	Phone         string     `gorm:"size:30" json:"phone"`
	DocumentNo    string     `gorm:"size:30" json:"document_no"`
	BirthDate     *time.Time `json:"birth_date"`
	City          string     `gorm:"size:100" json:"city"`
	IsPlaceholder bool       `gorm:"default:false" json:"is_placeholder"`
	IsActive      *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func PlaceholderCustomerEmail(externalId string) string {
	return fmt.Sprintf("customer-%s@%s", externalId, PlaceholderEmailDomain)
}

func GetCustomerByExternalId(ctx context.Context, db *gorm.DB, externalId string) (*Customer, error) {
	var customer Customer
	err := db.WithContext(ctx).Where("external_id = ?", externalId).Take(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func CreatePlaceholderCustomer(ctx context.Context, db *gorm.DB, externalId string) (*Customer, error) {
	customer := Customer{
		ExternalId:    &externalId,
		Name:          "Customer " + externalId,
		Email:         PlaceholderCustomerEmail(externalId),
		IsPlaceholder: true,
		IsActive:      utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}
