package store

import (
	"context"
	"fmt"
	"time"

	"github.com/levelpath/concierge/internal/domain"
)

// Seed inserts the demo catalog fixtures. Inserts are no-ops for rows
// that already exist, so calling it on every startup is safe.
func Seed(ctx context.Context, cat *SQLiteCatalog) error {
	now := time.Now()

	orders := []domain.Order{
		{
			ID: "ORD-001",
			Items: []domain.OrderItem{
				{Name: "Vintage Denim Jacket", Category: "outerwear", Size: "M", Color: "blue", Quantity: 1, Price: 24.99},
				{Name: "Cotton Crew T-Shirt", Category: "tops", Size: "L", Color: "white", Quantity: 2, Price: 6.50},
			},
			Total:     37.99,
			Status:    domain.OrderShipped,
			OrderDate: now.AddDate(0, 0, -5),
			ShippingAddress: domain.Address{
				Street: "412 Maple Ave", City: "Portland", State: "OR", ZipCode: "97201", Country: "US",
			},
		},
		{
			ID: "ORD-002",
			Items: []domain.OrderItem{
				{Name: "Wool Peacoat", Category: "outerwear", Size: "S", Color: "charcoal", Quantity: 1, Price: 42.00},
			},
			Total:     42.00,
			Status:    domain.OrderDelivered,
			OrderDate: now.AddDate(0, 0, -12),
			ShippingAddress: domain.Address{
				Street: "88 Birch St", City: "Seattle", State: "WA", ZipCode: "98101", Country: "US",
			},
		},
		{
			ID: "ORD-003",
			Items: []domain.OrderItem{
				{Name: "Leather Ankle Boots", Category: "footwear", Size: "8", Color: "brown", Quantity: 1, Price: 35.00},
				{Name: "Knit Scarf", Category: "accessories", Size: "", Color: "green", Quantity: 1, Price: 8.00},
			},
			Total:     43.00,
			Status:    domain.OrderPending,
			OrderDate: now.AddDate(0, 0, -1),
			ShippingAddress: domain.Address{
				Street: "17 Cedar Ln", City: "Portland", State: "OR", ZipCode: "97214", Country: "US",
			},
		},
		{
			ID: "DON-001",
			Items: []domain.OrderItem{
				{Name: "Clothing Donation Box", Category: "donation", Size: "", Color: "", Quantity: 1, Price: 0},
			},
			Total:     0,
			Status:    domain.OrderDelivered,
			OrderDate: now.AddDate(0, 0, -20),
			ShippingAddress: domain.Address{
				Street: "Downtown Donation Center, 200 Main St", City: "Portland", State: "OR", ZipCode: "97204", Country: "US",
			},
		},
	}
	for i := range orders {
		if err := cat.InsertOrder(ctx, &orders[i]); err != nil {
			return fmt.Errorf("seed order %s: %w", orders[i].ID, err)
		}
	}

	opportunities := []domain.VolunteerOpportunity{
		{
			ID:             "VOP-001",
			Title:          "Donation Sorting Shift",
			Description:    "Sort and tag incoming clothing donations at the downtown warehouse.",
			Location:       "Downtown Donation Center, Portland",
			TimeCommitment: "Saturdays, 9am-1pm",
			Skills:         []string{"organization", "lifting"},
			Status:         "open",
		},
		{
			ID:             "VOP-002",
			Title:          "Storefront Greeter",
			Description:    "Welcome shoppers and help them find departments at the flagship store.",
			Location:       "Flagship Store, Portland",
			TimeCommitment: "Weekday afternoons, flexible",
			Skills:         []string{"customer service"},
			Status:         "open",
		},
		{
			ID:             "VOP-003",
			Title:          "Job Coach Assistant",
			Description:    "Support career counselors during weekly resume and interview workshops.",
			Location:       "Community Career Center, Seattle",
			TimeCommitment: "Wednesdays, 6pm-8pm",
			Skills:         []string{"mentoring", "writing"},
			Status:         "waitlist",
		},
	}
	for i := range opportunities {
		if err := cat.InsertVolunteerOpportunity(ctx, &opportunities[i]); err != nil {
			return fmt.Errorf("seed opportunity %s: %w", opportunities[i].ID, err)
		}
	}

	stories := []domain.ImpactStory{
		{
			ID:          "IMP-001",
			Title:       "From Job Seeker to Store Manager",
			Description: "After completing our retail training program, Maria was hired part-time and now manages the Hawthorne store.",
			Location:    "Portland",
			Date:        now.AddDate(0, -2, 0),
			Category:    "employment",
		},
		{
			ID:          "IMP-002",
			Title:       "Ten Tons Diverted From Landfill",
			Description: "Last quarter our recycling partners processed over ten tons of textiles that could not be resold.",
			Location:    "Seattle",
			Date:        now.AddDate(0, -1, 0),
			Category:    "sustainability",
		},
		{
			ID:          "IMP-003",
			Title:       "Career Workshops Reach 500 Graduates",
			Description: "Our free resume and interview workshops celebrated their five hundredth graduate this spring.",
			Location:    "Portland",
			Date:        now.AddDate(0, 0, -10),
			Category:    "education",
		},
	}
	for i := range stories {
		if err := cat.InsertImpactStory(ctx, &stories[i]); err != nil {
			return fmt.Errorf("seed impact story %s: %w", stories[i].ID, err)
		}
	}

	locations := []domain.DropOffLocation{
		{
			ID:           "LOC-001",
			Name:         "Downtown Donation Center",
			Address:      "200 Main St, Portland, OR 97204",
			Hours:        "Mon-Sat 8am-6pm, Sun 10am-4pm",
			Phone:        "(503) 555-0142",
			AcceptsItems: []string{"clothing", "shoes", "books", "housewares"},
		},
		{
			ID:                  "LOC-002",
			Name:                "Eastside Attended Donation Trailer",
			Address:             "4501 SE Division St, Portland, OR 97206",
			Hours:               "Daily 9am-5pm",
			Phone:               "(503) 555-0177",
			AcceptsItems:        []string{"clothing", "shoes"},
			SpecialInstructions: "Trailer is attended; please hand items to staff rather than leaving them outside.",
		},
		{
			ID:           "LOC-003",
			Name:         "Capitol Hill Store & Donation Door",
			Address:      "1520 Pine St, Seattle, WA 98122",
			Hours:        "Mon-Sun 10am-7pm",
			Phone:        "(206) 555-0195",
			AcceptsItems: []string{"clothing", "shoes", "electronics", "furniture"},
		},
	}
	for i := range locations {
		if err := cat.InsertDropOffLocation(ctx, &locations[i]); err != nil {
			return fmt.Errorf("seed dropoff location %s: %w", locations[i].ID, err)
		}
	}

	cards := []domain.GiftCard{
		{
			CardNumber:     "GC-1001-2002",
			Balance:        25.00,
			OriginalAmount: 50.00,
			PurchaseDate:   now.AddDate(0, -3, 0),
			ExpiryDate:     now.AddDate(1, 0, 0),
			Status:         "active",
			PurchaserEmail: "sam@example.com",
			RecipientEmail: "alex@example.com",
		},
		{
			CardNumber:     "GC-1001-2003",
			Balance:        0,
			OriginalAmount: 20.00,
			PurchaseDate:   now.AddDate(-1, -1, 0),
			ExpiryDate:     now.AddDate(0, -1, 0),
			Status:         "expired",
			PurchaserEmail: "sam@example.com",
			RecipientEmail: "jordan@example.com",
		},
	}
	for i := range cards {
		if err := cat.InsertGiftCard(ctx, &cards[i]); err != nil {
			return fmt.Errorf("seed gift card %s: %w", cards[i].CardNumber, err)
		}
	}

	return nil
}

// DemoStoreInfo is the static storefront profile used by the store-hours
// tool. It mirrors the seeded Portland flagship location.
func DemoStoreInfo() domain.StoreInfo {
	return domain.StoreInfo{
		Name:  "LevelPath Thrift - Portland Flagship",
		Phone: "(503) 555-0100",
		Email: "hello@levelpath.example",
		Address: domain.Address{
			Street: "900 SW Morrison St", City: "Portland", State: "OR", ZipCode: "97205", Country: "US",
		},
		Hours: map[string]string{
			"monday":    "9:00-20:00",
			"tuesday":   "9:00-20:00",
			"wednesday": "9:00-20:00",
			"thursday":  "9:00-20:00",
			"friday":    "9:00-21:00",
			"saturday":  "9:00-21:00",
			"sunday":    "10:00-18:00",
		},
	}
}
