package domain

import (
	"time"
)

// OrderStatus is the fulfillment state of an order or donation record.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// Address is a shipping or drop-off address.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Size     string  `json:"size"`
	Color    string  `json:"color"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is a demo order/donation record looked up by the tool endpoints.
type Order struct {
	ID              string      `json:"id"`
	Items           []OrderItem `json:"items"`
	Total           float64     `json:"total"`
	Status          OrderStatus `json:"status"`
	OrderDate       time.Time   `json:"order_date"`
	ShippingAddress Address     `json:"shipping_address"`
}

// TrackingNumber derives the demo tracking number for the order.
func (o Order) TrackingNumber() string {
	return "TRK-" + o.ID
}

// ItemQuantity sums the quantities across all items.
func (o Order) ItemQuantity() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// VolunteerOpportunity is a schedulable volunteer shift.
type VolunteerOpportunity struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Location       string   `json:"location"`
	TimeCommitment string   `json:"time_commitment"`
	Skills         []string `json:"skills"`
	Status         string   `json:"status"`
}

// ImpactStory is a published program success story.
type ImpactStory struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Date        time.Time `json:"date"`
	Category    string    `json:"category"`
}

// DropOffLocation is a donation drop-off site.
type DropOffLocation struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Address             string   `json:"address"`
	Hours               string   `json:"hours"`
	Phone               string   `json:"phone"`
	AcceptsItems        []string `json:"accepts_items"`
	SpecialInstructions string   `json:"special_instructions,omitempty"`
}

// GiftCard is a demo gift card record.
type GiftCard struct {
	CardNumber     string    `json:"card_number"`
	Balance        float64   `json:"balance"`
	OriginalAmount float64   `json:"original_amount"`
	PurchaseDate   time.Time `json:"purchase_date"`
	ExpiryDate     time.Time `json:"expiry_date"`
	Status         string    `json:"status"`
	PurchaserEmail string    `json:"purchaser_email"`
	RecipientEmail string    `json:"recipient_email"`
}

// StoreInfo is the static storefront profile served by the store-hours tool.
type StoreInfo struct {
	Name    string            `json:"name"`
	Phone   string            `json:"phone"`
	Email   string            `json:"email"`
	Address Address           `json:"address"`
	Hours   map[string]string `json:"hours"`
}
