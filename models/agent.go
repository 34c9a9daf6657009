package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/utils"
	"gorm.io/gorm"
)

// Agent is a sales broker. ExternalId is nullable because agents can be
// registered in-app before their broker record exists upstream.
type Agent struct {
	ID            int        `gorm:"primary_key" json:"id"`
	ExternalId    *string    `gorm:"uniqueIndex;size:64" json:"external_id"`
	Name          string     `gorm:"size:150;not null" json:"name"`
	Email         string     `gorm:"size:150" json:"email"`
	Phone         string     `gorm:"size:30" json:"phone"`
	Mobile        string     `gorm:"size:30" json:"mobile"`
	DocumentNo    string     `gorm:"size:30" json:"document_no"`
	Class         AgentClass `gorm:"size:20;not null;default:'EXTERNAL'" json:"class"`
	IsPlaceholder bool       `gorm:"default:false" json:"is_placeholder"`
	IsActive      *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlaceholderAgentEmail derives the deterministic synthetic address for an
// unresolved broker id.
func PlaceholderAgentEmail(externalId string) string {
	return fmt.Sprintf("agent-%s@%s", externalId, PlaceholderEmailDomain)
}

func GetAgentByExternalId(ctx context.Context, db *gorm.DB, externalId string) (*Agent, error) {
	var agent Agent
	err := db.WithContext(ctx).Where("external_id = ?", externalId).Take(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agent, nil
}

// CreatePlaceholderAgent writes the minimal record that lets a sale
// reference a broker that has not synced yet. Placeholders converge later
// via reconciliation; real contact data is never overwritten.
func CreatePlaceholderAgent(ctx context.Context, db *gorm.DB, externalId string) (*Agent, error) {
	agent := Agent{
		ExternalId:    &externalId,
		Name:          "Agent " + externalId,
		Email:         PlaceholderAgentEmail(externalId),
		Class:         AgentClassExternal,
		IsPlaceholder: true,
		IsActive:      utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}
