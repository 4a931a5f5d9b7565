package models

import (
	"time"
)

// StoreStatus represents the lifecycle state of a store
type StoreStatus string

const (
	StoreStatusActive    StoreStatus = "ACTIVE"
	StoreStatusInactive  StoreStatus = "INACTIVE"
	StoreStatusSuspended StoreStatus = "SUSPENDED"
)

// OrderStatusCompleted is the only order status counted towards revenue and order totals
const OrderStatusCompleted = "COMPLETED"

// ProductStatusActive is the product status counted towards product_count
const ProductStatusActive = "ACTIVE"

// Store is the aggregation scope. Rows are owned by the store subsystem and
// read here only.
type Store struct {
	ID        uint        `json:"id" gorm:"primaryKey"`
	TenantID  string      `json:"tenantId" gorm:"not null;index"`
	Name      string      `json:"name" gorm:"not null"`
	Status    StoreStatus `json:"status" gorm:"not null;default:'ACTIVE'"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func (Store) TableName() string {
	return "stores"
}

// StoreOrder is a read-only projection of an order placed against a store
type StoreOrder struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	TenantID    string    `json:"tenantId" gorm:"not null;index"`
	StoreID     uint      `json:"storeId" gorm:"not null;index"`
	UserID      uint      `json:"userId" gorm:"index"`
	Status      string    `json:"status" gorm:"not null;size:32"`
	TotalAmount float64   `json:"totalAmount" gorm:"type:decimal(12,2);not null;default:0"`
	CreatedAt   time.Time `json:"createdAt" gorm:"index"`
}

func (StoreOrder) TableName() string {
	return "store_orders"
}

// StoreFollower records a user following a store
type StoreFollower struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TenantID  string    `json:"tenantId" gorm:"not null;index"`
	StoreID   uint      `json:"storeId" gorm:"not null;index"`
	UserID    uint      `json:"userId" gorm:"not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

func (StoreFollower) TableName() string {
	return "store_followers"
}

// Product is a read-only projection used for product_count
type Product struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TenantID  string    `json:"tenantId" gorm:"not null;index"`
	StoreID   uint      `json:"storeId" gorm:"not null;index"`
	Status    string    `json:"status" gorm:"not null;size:32"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Product) TableName() string {
	return "products"
}

// ScopeRecord is a store joined with its current derived counters
type ScopeRecord struct {
	ID            uint        `json:"id"`
	Name          string      `json:"name"`
	Status        StoreStatus `json:"status"`
	FollowerCount int64       `json:"followerCount"`
	OrderCount    int64       `json:"orderCount"`
	ProductCount  int64       `json:"productCount"`
	RevenueSum    float64     `json:"revenueSum"`
}
