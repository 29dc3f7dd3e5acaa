// Package store provides the demo catalog repository backing the tool
// endpoints. Conversation and session state is deliberately not persisted;
// only the storefront fixtures live here.
package store

import (
	"context"

	"github.com/levelpath/concierge/internal/domain"
)

// Catalog defines the interface for the demo catalog data.
type Catalog interface {
	// GetOrder retrieves an order/donation record by ID. Returns (nil, nil)
	// when the record does not exist.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// GetVolunteerOpportunity retrieves a volunteer opportunity by ID.
	// Returns (nil, nil) when the record does not exist.
	GetVolunteerOpportunity(ctx context.Context, id string) (*domain.VolunteerOpportunity, error)

	// ListImpactStories returns stories filtered by category and location
	// substring, most recent first, bounded by limit.
	ListImpactStories(ctx context.Context, category, location string, limit int) ([]domain.ImpactStory, error)

	// ListDropOffLocations returns locations whose name or address contains
	// the city substring; an empty city returns all locations.
	ListDropOffLocations(ctx context.Context, city string) ([]domain.DropOffLocation, error)

	// GetGiftCard retrieves a gift card by card number. Returns (nil, nil)
	// when the card does not exist.
	GetGiftCard(ctx context.Context, cardNumber string) (*domain.GiftCard, error)

	// InsertGiftCard stores a newly purchased gift card.
	InsertGiftCard(ctx context.Context, card *domain.GiftCard) error

	// UpdateGiftCard sets the card's balance and status.
	UpdateGiftCard(ctx context.Context, cardNumber string, balance float64, status string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
