package dto

import (
	"time"

	"github.com/Additional-Code/packline/internal/entity"
)

// PostingResponse represents a posting as exposed via transport layers.
type PostingResponse struct {
	ID             int64             `json:"id"`
	PostingNumber  string            `json:"posting_number"`
	Status         string            `json:"status"`
	ShipmentDate   *time.Time        `json:"shipment_date,omitempty"`
	ShipmentNumber string            `json:"shipment_number,omitempty"`
	LabelBarcode   string            `json:"label_barcode,omitempty"`
	Warehouse      string            `json:"warehouse,omitempty"`
	AssignedUser   *UserResponse     `json:"assigned_user,omitempty"`
	AssembledAt    *time.Time        `json:"assembled_at,omitempty"`
	Products       []ProductResponse `json:"products"`
}

// ProductResponse is one line item of a posting.
type ProductResponse struct {
	OfferID  string `json:"offer_id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price,omitempty"`
}

// UserResponse identifies a warehouse worker.
type UserResponse struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

// NewPostingResponse maps a stored posting to its transport shape.
func NewPostingResponse(posting *entity.Posting) PostingResponse {
	out := PostingResponse{
		ID:             posting.ID,
		PostingNumber:  posting.PostingNumber,
		Status:         posting.Status,
		ShipmentNumber: posting.ShipmentNumber,
		LabelBarcode:   posting.LabelBarcode,
		Warehouse:      posting.Warehouse,
		AssembledAt:    posting.AssembledAt,
		Products:       make([]ProductResponse, 0, len(posting.Products)),
	}
	if !posting.ShipmentDate.IsZero() {
		date := posting.ShipmentDate
		out.ShipmentDate = &date
	}
	if posting.AssignedUser != nil {
		out.AssignedUser = &UserResponse{
			ID:    posting.AssignedUser.ID,
			Login: posting.AssignedUser.Login,
			Name:  posting.AssignedUser.Name,
		}
	}
	for _, product := range posting.Products {
		out.Products = append(out.Products, ProductResponse{
			OfferID:  product.OfferID,
			SKU:      product.SKU,
			Name:     product.Name,
			Quantity: product.Quantity,
			Price:    product.Price,
		})
	}
	return out
}

// NewPostingResponses maps a posting list.
func NewPostingResponses(postings []*entity.Posting) []PostingResponse {
	out := make([]PostingResponse, 0, len(postings))
	for _, posting := range postings {
		out = append(out, NewPostingResponse(posting))
	}
	return out
}

// GroupResponse summarises one shipment batch (all postings sharing a
// shipment date).
type GroupResponse struct {
	ShipmentDate time.Time         `json:"shipment_date"`
	Total        int               `json:"total"`
	Assembled    int               `json:"assembled"`
	Locked       bool              `json:"locked"`
	Postings     []PostingResponse `json:"postings,omitempty"`
}
