package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// FactSource identifies the workflow that awarded a point fact
type FactSource string

const (
	FactSourceOrder    FactSource = "order"
	FactSourceReferral FactSource = "referral"
)

// ValidFactSources lists sources accepted by the points endpoints
var ValidFactSources = []FactSource{FactSourceOrder, FactSourceReferral}

// IsValidFactSource reports whether s names a known source
func IsValidFactSource(s string) bool {
	for _, src := range ValidFactSources {
		if string(src) == s {
			return true
		}
	}
	return false
}

// PointFact is one immutable reward event. Rows are inserted by the event
// subscriber and never updated or deleted.
type PointFact struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID  string         `json:"tenantId" gorm:"not null;index:idx_point_facts_tenant_created,priority:1"`
	StoreID   uint           `json:"storeId" gorm:"not null;index"`
	UserID    uint           `json:"userId" gorm:"not null;index"`
	Points    int64          `json:"points" gorm:"not null"`
	Source    FactSource     `json:"source" gorm:"not null;size:32;index"`
	EventID   string         `json:"eventId" gorm:"not null;size:128;uniqueIndex"`
	Metadata  datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time      `json:"createdAt" gorm:"not null;index:idx_point_facts_tenant_created,priority:2"`
}

func (PointFact) TableName() string {
	return "point_facts"
}
