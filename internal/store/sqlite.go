package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/levelpath/concierge/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed catalog.
func NewSQLite(dbPath string) (*SQLiteCatalog, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cat := &SQLiteCatalog{db: db}
	if err := cat.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return cat, nil
}

func (s *SQLiteCatalog) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		items_json TEXT NOT NULL,
		total REAL NOT NULL,
		status TEXT NOT NULL,
		order_date INTEGER NOT NULL,
		address_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS volunteer_opportunities (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		location TEXT NOT NULL,
		time_commitment TEXT NOT NULL,
		skills_json TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS impact_stories (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		location TEXT NOT NULL,
		date INTEGER NOT NULL,
		category TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_impact_stories_date ON impact_stories(date);

	CREATE TABLE IF NOT EXISTS dropoff_locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		hours TEXT NOT NULL,
		phone TEXT NOT NULL,
		accepts_json TEXT NOT NULL,
		special_instructions TEXT
	);

	CREATE TABLE IF NOT EXISTS gift_cards (
		card_number TEXT PRIMARY KEY,
		balance REAL NOT NULL,
		original_amount REAL NOT NULL,
		purchase_date INTEGER NOT NULL,
		expiry_date INTEGER NOT NULL,
		status TEXT NOT NULL,
		purchaser_email TEXT NOT NULL,
		recipient_email TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteCatalog) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetOrder retrieves an order/donation record by ID.
func (s *SQLiteCatalog) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT id, items_json, total, status, order_date, address_json FROM orders WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var order domain.Order
	var itemsJSON, addressJSON string
	var orderDate int64

	err := row.Scan(&order.ID, &itemsJSON, &order.Total, &order.Status, &orderDate, &addressJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan order row: %w", err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &order.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	if err := json.Unmarshal([]byte(addressJSON), &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode order address: %w", err)
	}
	order.OrderDate = time.Unix(orderDate, 0)

	return &order, nil
}

// InsertOrder stores an order record; used by seeding.
func (s *SQLiteCatalog) InsertOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	addressJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode order address: %w", err)
	}

	query := `
	INSERT INTO orders (id, items_json, total, status, order_date, address_json)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, query,
		order.ID, string(itemsJSON), order.Total, order.Status,
		order.OrderDate.Unix(), string(addressJSON),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetVolunteerOpportunity retrieves a volunteer opportunity by ID.
func (s *SQLiteCatalog) GetVolunteerOpportunity(ctx context.Context, id string) (*domain.VolunteerOpportunity, error) {
	query := `
		SELECT id, title, description, location, time_commitment, skills_json, status
		FROM volunteer_opportunities WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var opp domain.VolunteerOpportunity
	var skillsJSON string
	err := row.Scan(&opp.ID, &opp.Title, &opp.Description, &opp.Location,
		&opp.TimeCommitment, &skillsJSON, &opp.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan volunteer opportunity row: %w", err)
	}
	if err := json.Unmarshal([]byte(skillsJSON), &opp.Skills); err != nil {
		return nil, fmt.Errorf("decode opportunity skills: %w", err)
	}
	return &opp, nil
}

// InsertVolunteerOpportunity stores an opportunity; used by seeding.
func (s *SQLiteCatalog) InsertVolunteerOpportunity(ctx context.Context, opp *domain.VolunteerOpportunity) error {
	skillsJSON, err := json.Marshal(opp.Skills)
	if err != nil {
		return fmt.Errorf("encode opportunity skills: %w", err)
	}
	query := `
	INSERT INTO volunteer_opportunities (id, title, description, location, time_commitment, skills_json, status)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, query,
		opp.ID, opp.Title, opp.Description, opp.Location, opp.TimeCommitment, string(skillsJSON), opp.Status)
	if err != nil {
		return fmt.Errorf("insert volunteer opportunity: %w", err)
	}
	return nil
}

// ListImpactStories returns filtered stories, most recent first.
func (s *SQLiteCatalog) ListImpactStories(ctx context.Context, category, location string, limit int) ([]domain.ImpactStory, error) {
	query := `
		SELECT id, title, description, location, date, category FROM impact_stories
		WHERE (? = '' OR category = ?)
		  AND (? = '' OR LOWER(location) LIKE '%' || LOWER(?) || '%')
		ORDER BY date DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, category, category, location, location, limit)
	if err != nil {
		return nil, fmt.Errorf("query impact stories: %w", err)
	}
	defer closeRows(rows, "impact stories")

	var stories []domain.ImpactStory
	for rows.Next() {
		var story domain.ImpactStory
		var date int64
		if err := rows.Scan(&story.ID, &story.Title, &story.Description,
			&story.Location, &date, &story.Category); err != nil {
			return nil, fmt.Errorf("scan impact story row: %w", err)
		}
		story.Date = time.Unix(date, 0)
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate impact stories: %w", err)
	}
	return stories, nil
}

// InsertImpactStory stores a story; used by seeding.
func (s *SQLiteCatalog) InsertImpactStory(ctx context.Context, story *domain.ImpactStory) error {
	query := `
	INSERT INTO impact_stories (id, title, description, location, date, category)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		story.ID, story.Title, story.Description, story.Location, story.Date.Unix(), story.Category)
	if err != nil {
		return fmt.Errorf("insert impact story: %w", err)
	}
	return nil
}

// ListDropOffLocations returns locations matching the city substring.
func (s *SQLiteCatalog) ListDropOffLocations(ctx context.Context, city string) ([]domain.DropOffLocation, error) {
	query := `
		SELECT id, name, address, hours, phone, accepts_json, special_instructions
		FROM dropoff_locations
		WHERE ? = ''
		   OR LOWER(address) LIKE '%' || LOWER(?) || '%'
		   OR LOWER(name) LIKE '%' || LOWER(?) || '%'
		ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, city, city, city)
	if err != nil {
		return nil, fmt.Errorf("query dropoff locations: %w", err)
	}
	defer closeRows(rows, "dropoff locations")

	var locations []domain.DropOffLocation
	for rows.Next() {
		var loc domain.DropOffLocation
		var acceptsJSON string
		var special sql.NullString
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Address, &loc.Hours,
			&loc.Phone, &acceptsJSON, &special); err != nil {
			return nil, fmt.Errorf("scan dropoff location row: %w", err)
		}
		if err := json.Unmarshal([]byte(acceptsJSON), &loc.AcceptsItems); err != nil {
			return nil, fmt.Errorf("decode accepted items: %w", err)
		}
		loc.SpecialInstructions = special.String
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dropoff locations: %w", err)
	}
	return locations, nil
}

// InsertDropOffLocation stores a location; used by seeding.
func (s *SQLiteCatalog) InsertDropOffLocation(ctx context.Context, loc *domain.DropOffLocation) error {
	acceptsJSON, err := json.Marshal(loc.AcceptsItems)
	if err != nil {
		return fmt.Errorf("encode accepted items: %w", err)
	}
	var special interface{}
	if loc.SpecialInstructions != "" {
		special = loc.SpecialInstructions
	}
	query := `
	INSERT INTO dropoff_locations (id, name, address, hours, phone, accepts_json, special_instructions)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, query,
		loc.ID, loc.Name, loc.Address, loc.Hours, loc.Phone, string(acceptsJSON), special)
	if err != nil {
		return fmt.Errorf("insert dropoff location: %w", err)
	}
	return nil
}

// GetGiftCard retrieves a gift card by card number.
func (s *SQLiteCatalog) GetGiftCard(ctx context.Context, cardNumber string) (*domain.GiftCard, error) {
	query := `
		SELECT card_number, balance, original_amount, purchase_date, expiry_date,
		       status, purchaser_email, recipient_email
		FROM gift_cards WHERE card_number = ?`
	row := s.db.QueryRowContext(ctx, query, cardNumber)

	var card domain.GiftCard
	var purchaseDate, expiryDate int64
	err := row.Scan(&card.CardNumber, &card.Balance, &card.OriginalAmount,
		&purchaseDate, &expiryDate, &card.Status, &card.PurchaserEmail, &card.RecipientEmail)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan gift card row: %w", err)
	}
	card.PurchaseDate = time.Unix(purchaseDate, 0)
	card.ExpiryDate = time.Unix(expiryDate, 0)
	return &card, nil
}

// InsertGiftCard stores a newly purchased gift card.
func (s *SQLiteCatalog) InsertGiftCard(ctx context.Context, card *domain.GiftCard) error {
	query := `
	INSERT INTO gift_cards (card_number, balance, original_amount, purchase_date,
		expiry_date, status, purchaser_email, recipient_email)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(card_number) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		card.CardNumber, card.Balance, card.OriginalAmount,
		card.PurchaseDate.Unix(), card.ExpiryDate.Unix(),
		card.Status, card.PurchaserEmail, card.RecipientEmail)
	if err != nil {
		return fmt.Errorf("insert gift card: %w", err)
	}
	return nil
}

// UpdateGiftCard sets the card's balance and status.
func (s *SQLiteCatalog) UpdateGiftCard(ctx context.Context, cardNumber string, balance float64, status string) error {
	query := `UPDATE gift_cards SET balance = ?, status = ? WHERE card_number = ?`
	result, err := s.db.ExecContext(ctx, query, balance, status, cardNumber)
	if err != nil {
		return fmt.Errorf("update gift card: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("gift card not found: %s", cardNumber)
	}
	return nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}
