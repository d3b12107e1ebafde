package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Posting lifecycle statuses as reported by the marketplace. Transitions
// only move forward: awaiting_packaging -> awaiting_deliver.
const (
	StatusAwaitingPackaging = "awaiting_packaging"
	StatusAwaitingDeliver   = "awaiting_deliver"
)

// StatusRank orders lifecycle statuses for forward-only merge decisions.
// Unknown statuses rank lowest so they never overwrite tracked ones.
func StatusRank(status string) int {
	switch status {
	case StatusAwaitingPackaging:
		return 1
	case StatusAwaitingDeliver:
		return 2
	default:
		return 0
	}
}

// Posting is one marketplace shipment unit tracked through assembly and
// ship-out. The posting number is assigned by the marketplace and never
// reused; records are never deleted.
type Posting struct {
	bun.BaseModel `bun:"table:postings"`

	ID             int64      `bun:",pk,autoincrement"`
	PostingNumber  string     `bun:"posting_number,notnull,unique"`
	Status         string     `bun:"status,notnull"`
	ShipmentDate   time.Time  `bun:"shipment_date,nullzero"`
	ShipmentNumber string     `bun:"shipment_number,nullzero"`
	LabelBarcode   string     `bun:"label_barcode,nullzero"`
	Warehouse      string     `bun:"warehouse,nullzero"`
	AssignedUserID *int64     `bun:"assigned_user_id,nullzero"`
	AssembledAt    *time.Time `bun:"assembled_at,nullzero"`
	SyncedAt       time.Time  `bun:"synced_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero"`

	Products     []*PostingProduct `bun:"rel:has-many,join:id=posting_id"`
	AssignedUser *User             `bun:"rel:belongs-to,join:assigned_user_id=id"`
}

// PostingProduct is a single line item of a posting.
type PostingProduct struct {
	bun.BaseModel `bun:"table:posting_products"`

	ID        int64  `bun:",pk,autoincrement"`
	PostingID int64  `bun:"posting_id,notnull"`
	OfferID   string `bun:"offer_id,notnull"`
	SKU       string `bun:"sku,notnull"`
	Name      string `bun:"name,notnull"`
	Quantity  int    `bun:"quantity,notnull"`
	Price     string `bun:"price,nullzero"`
}

// ShipmentLock freezes assignment mutations for one shipment date once
// labels have been committed for distribution.
type ShipmentLock struct {
	bun.BaseModel `bun:"table:shipment_locks"`

	ID           int64     `bun:",pk,autoincrement"`
	ShipmentDate time.Time `bun:"shipment_date,notnull,unique"`
	LockedAt     time.Time `bun:"locked_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
