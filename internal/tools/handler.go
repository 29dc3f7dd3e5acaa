package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/levelpath/concierge/internal/domain"
	"github.com/levelpath/concierge/internal/store"
)

const (
	giftCardMinAmount = 10
	giftCardMaxAmount = 500
	returnWindowDays  = 30
	impactStoryLimit  = 5
)

// Params is the decoded JSON body of a tool invocation.
type Params map[string]any

func (p Params) Str(key string) string {
	v, _ := p[key].(string)
	return v
}

func (p Params) Num(key string) float64 {
	v, _ := p[key].(float64)
	return v
}

// Handler serves the named tool endpoints under /api/tools and dispatches
// tool.execution webhook requests to the same implementations.
type Handler struct {
	catalog store.Catalog
	info    domain.StoreInfo
	now     func() time.Time
}

func NewHandler(catalog store.Catalog, info domain.StoreInfo) *Handler {
	return &Handler{catalog: catalog, info: info, now: time.Now}
}

// NewHandlerWithClock is used by tests to pin the current time.
func NewHandlerWithClock(catalog store.Catalog, info domain.StoreInfo, now func() time.Time) *Handler {
	return &Handler{catalog: catalog, info: info, now: now}
}

// RegisterRoutes mounts the tool endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/tools", func(r chi.Router) {
		r.Post("/order-lookup", h.serve(h.OrderLookup))
		r.Post("/donation-lookup", h.serve(h.DonationLookup))
		r.Post("/return-request", h.serve(h.ReturnRequest))
		r.Post("/volunteer-scheduler", h.serve(h.VolunteerScheduler))
		r.Post("/impact-report", h.serve(h.ImpactReport))
		r.Post("/dropoff-locations", h.serve(h.DropOffLocations))
		r.Post("/store-hours", h.serve(h.StoreHours))
		r.Post("/gift-card", h.serve(h.GiftCard))
	})
}

// Dispatch routes a tool.execution webhook request to the named tool and
// returns its payload. Unknown tool names are an error.
func (h *Handler) Dispatch(ctx context.Context, toolName string, params Params) (any, error) {
	var fn func(context.Context, Params) (int, any)
	switch toolName {
	case "order_lookup":
		fn = h.OrderLookup
	case "donation_lookup":
		fn = h.DonationLookup
	case "return_request":
		fn = h.ReturnRequest
	case "volunteer_scheduler":
		fn = h.VolunteerScheduler
	case "impact_report":
		fn = h.ImpactReport
	case "dropoff_locations":
		fn = h.DropOffLocations
	case "store_hours":
		fn = h.StoreHours
	case "gift_card":
		fn = h.GiftCard
	default:
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}

	status, payload := fn(ctx, params)
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("tool %s failed", toolName)
	}
	return payload, nil
}

type toolFunc func(context.Context, Params) (int, any)

func (h *Handler) serve(fn toolFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := Params{}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"success": false,
					"error":   "Invalid JSON body",
				})
				return
			}
		}
		status, payload := fn(r.Context(), params)
		writeJSON(w, status, payload)
	}
}

// OrderLookup returns order details for an order id. A missing record is a
// 200 with success:false, not an error status.
func (h *Handler) OrderLookup(ctx context.Context, params Params) (int, any) {
	orderID := params.Str("order_id")
	if orderID == "" {
		return http.StatusBadRequest, failure("Order ID is required")
	}

	order, err := h.catalog.GetOrder(ctx, orderID)
	if err != nil {
		slog.Error("order lookup failed", "order_id", orderID, "error", err)
		return http.StatusInternalServerError, failure("Failed to look up order")
	}
	if order == nil {
		return http.StatusOK, map[string]any{
			"success":  false,
			"error":    "Order not found",
			"order_id": orderID,
		}
	}

	var estimatedDelivery any
	if order.Status == domain.OrderShipped {
		estimatedDelivery = order.OrderDate.AddDate(0, 0, 7).Format("January 2, 2006")
	}

	return http.StatusOK, map[string]any{
		"success": true,
		"order": map[string]any{
			"id":                order.ID,
			"status":            order.Status,
			"total":             order.Total,
			"orderDate":         order.OrderDate.Format(time.RFC3339),
			"items":             order.Items,
			"shippingAddress":   order.ShippingAddress,
			"trackingNumber":    order.TrackingNumber(),
			"estimatedDelivery": estimatedDelivery,
		},
	}
}

// DonationLookup looks up the same records as OrderLookup but frames the
// response around donation impact.
func (h *Handler) DonationLookup(ctx context.Context, params Params) (int, any) {
	donationID := params.Str("donation_id")
	if donationID == "" {
		return http.StatusBadRequest, failure("Donation ID is required")
	}

	donation, err := h.catalog.GetOrder(ctx, donationID)
	if err != nil {
		slog.Error("donation lookup failed", "donation_id", donationID, "error", err)
		return http.StatusInternalServerError, failure("Failed to look up donation")
	}
	if donation == nil {
		return http.StatusOK, map[string]any{
			"success":     false,
			"error":       "Donation not found",
			"donation_id": donationID,
		}
	}

	quantity := donation.ItemQuantity()
	program := "Community Closet"
	if len(donation.Items) > 0 && donation.Items[0].Category == "donation" {
		program = "Workforce Training"
	}

	return http.StatusOK, map[string]any{
		"success": true,
		"donation": map[string]any{
			"id":              donation.ID,
			"status":          donation.Status,
			"items":           donation.Items,
			"donationDate":    donation.OrderDate.Format(time.RFC3339),
			"dropOffLocation": donation.ShippingAddress,
			"impact": map[string]any{
				"familiesHelped":        quantity,
				"program":               program,
				"estimatedLivesImpacted": quantity * 3,
			},
		},
	}
}

// ReturnRequest opens a return for an order inside the 30-day window.
func (h *Handler) ReturnRequest(ctx context.Context, params Params) (int, any) {
	orderID := params.Str("order_id")
	reason := params.Str("reason")
	if orderID == "" || reason == "" {
		return http.StatusBadRequest, failure("Order ID and reason are required")
	}

	order, err := h.catalog.GetOrder(ctx, orderID)
	if err != nil {
		slog.Error("return request lookup failed", "order_id", orderID, "error", err)
		return http.StatusInternalServerError, failure("Failed to process return")
	}
	if order == nil {
		return http.StatusOK, map[string]any{
			"success":  false,
			"error":    "Order not found",
			"order_id": orderID,
		}
	}

	if order.OrderDate.Before(h.now().AddDate(0, 0, -returnWindowDays)) {
		return http.StatusOK, map[string]any{
			"success":   false,
			"error":     "Order is outside the 30-day return window",
			"order_id":  orderID,
			"orderDate": order.OrderDate.Format(time.RFC3339),
		}
	}

	returnID := fmt.Sprintf("RET-%s-%d", orderID, h.now().UnixMilli())
	return http.StatusOK, map[string]any{
		"success": true,
		"return": map[string]any{
			"returnId":    returnID,
			"orderId":     orderID,
			"reason":      reason,
			"status":      "approved",
			"returnLabel": "https://shop.levelpath.example/return-labels/" + returnID,
			"instructions": []string{
				"1. Print the return label",
				"2. Package items in original packaging",
				"3. Attach return label to package",
				"4. Drop off at any carrier location",
				"5. Refund will be processed within 5-7 business days",
			},
			"refundAmount": order.Total,
			"refundMethod": "Original payment method",
		},
	}
}

// VolunteerScheduler books a volunteer into an open opportunity.
func (h *Handler) VolunteerScheduler(ctx context.Context, params Params) (int, any) {
	opportunityID := params.Str("opportunity_id")
	volunteerName := params.Str("volunteer_name")
	if opportunityID == "" || volunteerName == "" {
		return http.StatusBadRequest, failure("Opportunity ID and volunteer name are required")
	}

	opp, err := h.catalog.GetVolunteerOpportunity(ctx, opportunityID)
	if err != nil {
		slog.Error("volunteer opportunity lookup failed", "opportunity_id", opportunityID, "error", err)
		return http.StatusInternalServerError, failure("Failed to schedule volunteer opportunity")
	}
	if opp == nil {
		return http.StatusOK, map[string]any{
			"success":        false,
			"error":          "Volunteer opportunity not found",
			"opportunity_id": opportunityID,
		}
	}
	if opp.Status != "open" {
		return http.StatusOK, map[string]any{
			"success":        false,
			"error":          "This volunteer opportunity is no longer available",
			"opportunity_id": opportunityID,
		}
	}

	contact := params.Str("contact_info")
	if contact == "" {
		contact = "Not provided"
	}

	confirmation := fmt.Sprintf("VOL-%06d", h.now().UnixMilli()%1000000)
	return http.StatusOK, map[string]any{
		"success": true,
		"confirmation": map[string]any{
			"number": confirmation,
			"volunteer": map[string]any{
				"name":    volunteerName,
				"contact": contact,
			},
			"opportunity": map[string]any{
				"title":          opp.Title,
				"description":    opp.Description,
				"location":       opp.Location,
				"timeCommitment": opp.TimeCommitment,
				"skills":         opp.Skills,
			},
			"nextSteps": []string{
				"You will receive an email confirmation within 24 hours",
				"Our volunteer coordinator will contact you to confirm details",
				"Please arrive 15 minutes early for orientation",
				"Bring a valid ID and comfortable clothing",
			},
			"contactInfo": map[string]any{
				"phone": h.info.Phone,
				"email": h.info.Email,
			},
		},
	}
}

// ImpactReport returns the most recent impact stories matching the filter
// plus a static program breakdown.
func (h *Handler) ImpactReport(ctx context.Context, params Params) (int, any) {
	category := params.Str("category")
	location := params.Str("location")

	stories, err := h.catalog.ListImpactStories(ctx, category, location, impactStoryLimit)
	if err != nil {
		slog.Error("impact report query failed", "error", err)
		return http.StatusInternalServerError, failure("Failed to generate impact report")
	}

	categories := make([]string, 0, len(stories))
	seen := map[string]bool{}
	storyPayloads := make([]map[string]any, 0, len(stories))
	for _, story := range stories {
		if !seen[story.Category] {
			seen[story.Category] = true
			categories = append(categories, story.Category)
		}
		storyPayloads = append(storyPayloads, map[string]any{
			"id":          story.ID,
			"title":       story.Title,
			"description": story.Description,
			"location":    story.Location,
			"date":        story.Date.Format(time.RFC3339),
			"category":    story.Category,
		})
	}

	return http.StatusOK, map[string]any{
		"success": true,
		"impactReport": map[string]any{
			"summary": map[string]any{
				"totalStories": len(stories),
				"programs":     categories,
				"period":       "Last 30 days",
			},
			"stories": storyPayloads,
			"programBreakdown": map[string]any{
				"employment": map[string]any{
					"description": "Retail job training and placement",
					"impact":      "15+ graduates placed this month",
				},
				"sustainability": map[string]any{
					"description": "Textile recycling and landfill diversion",
					"impact":      "10 tons of textiles diverted last quarter",
				},
				"education": map[string]any{
					"description": "Free resume and interview workshops",
					"impact":      "500+ workshop graduates to date",
				},
			},
		},
	}
}

// DropOffLocations lists donation drop-off sites. An unmatched city falls
// back to the full list with an explanatory message.
func (h *Handler) DropOffLocations(ctx context.Context, params Params) (int, any) {
	city := params.Str("city")

	locations, err := h.catalog.ListDropOffLocations(ctx, city)
	if err != nil {
		slog.Error("dropoff location query failed", "city", city, "error", err)
		return http.StatusInternalServerError, failure("Failed to fetch drop-off locations")
	}

	payload := map[string]any{
		"success": true,
		"donationGuidelines": map[string]any{
			"acceptedItems": []string{
				"Clothing (clean and wearable)",
				"Shoes (all types and sizes)",
				"Accessories, books, and housewares",
			},
			"notAccepted": []string{
				"Damaged or heavily worn items",
				"Wet or soiled clothing",
			},
			"preparation": []string{
				"Clean items before donating",
				"Pack items in bags or boxes",
			},
		},
	}

	if len(locations) == 0 && city != "" {
		all, err := h.catalog.ListDropOffLocations(ctx, "")
		if err != nil {
			slog.Error("dropoff location fallback query failed", "error", err)
			return http.StatusInternalServerError, failure("Failed to fetch drop-off locations")
		}
		payload["locations"] = all
		payload["message"] = fmt.Sprintf("No specific locations found for %q. Here are all our available drop-off locations:", city)
		return http.StatusOK, payload
	}

	payload["locations"] = locations
	return http.StatusOK, payload
}

// StoreHours returns the storefront profile and whether it is open now.
func (h *Handler) StoreHours(ctx context.Context, params Params) (int, any) {
	now := h.now()
	day := strings.ToLower(now.Weekday().String())
	hours := h.info.Hours[day]

	status := map[string]any{"isOpen": false}
	if open, close, ok := parseHourRange(hours); ok {
		minutes := now.Hour()*60 + now.Minute()
		status["isOpen"] = minutes >= open && minutes < close
		status["closesAt"] = formatMinutes(close)
		if minutes < open {
			status["nextOpen"] = formatMinutes(open)
		}
	}

	return http.StatusOK, map[string]any{
		"success": true,
		"store": map[string]any{
			"name":    h.info.Name,
			"hours":   h.info.Hours,
			"phone":   h.info.Phone,
			"email":   h.info.Email,
			"address": h.info.Address,
			"fullAddress": fmt.Sprintf("%s, %s, %s %s",
				h.info.Address.Street, h.info.Address.City, h.info.Address.State, h.info.Address.ZipCode),
			"currentStatus": status,
		},
	}
}

// GiftCard handles check_balance, purchase, and redeem actions.
func (h *Handler) GiftCard(ctx context.Context, params Params) (int, any) {
	switch params.Str("action") {
	case "check_balance":
		return h.giftCardBalance(ctx, params)
	case "purchase":
		return h.giftCardPurchase(ctx, params)
	case "redeem":
		return h.giftCardRedeem(ctx, params)
	case "":
		return http.StatusBadRequest, failure("Action is required (check_balance, purchase, or redeem)")
	default:
		return http.StatusBadRequest, failure("Invalid action. Use: check_balance, purchase, or redeem")
	}
}

func (h *Handler) giftCardBalance(ctx context.Context, params Params) (int, any) {
	cardNumber := params.Str("cardNumber")
	if cardNumber == "" {
		return http.StatusBadRequest, failure("Card number is required for balance check")
	}

	card, err := h.catalog.GetGiftCard(ctx, cardNumber)
	if err != nil {
		slog.Error("gift card lookup failed", "error", err)
		return http.StatusInternalServerError, failure("Failed to process gift card request")
	}
	if card == nil {
		return http.StatusOK, map[string]any{
			"success":    false,
			"error":      "Gift card not found",
			"cardNumber": cardNumber,
		}
	}
	if card.Status == "expired" {
		return http.StatusOK, map[string]any{
			"success":    false,
			"error":      "Gift card has expired",
			"cardNumber": cardNumber,
			"expiryDate": card.ExpiryDate.Format("2006-01-02"),
		}
	}

	return http.StatusOK, map[string]any{
		"success": true,
		"giftCard": map[string]any{
			"cardNumber":     card.CardNumber,
			"balance":        card.Balance,
			"originalAmount": card.OriginalAmount,
			"status":         card.Status,
			"purchaseDate":   card.PurchaseDate.Format("2006-01-02"),
			"expiryDate":     card.ExpiryDate.Format("2006-01-02"),
			"usedAmount":     card.OriginalAmount - card.Balance,
		},
	}
}

func (h *Handler) giftCardPurchase(ctx context.Context, params Params) (int, any) {
	amount := params.Num("amount")
	if amount <= 0 {
		return http.StatusBadRequest, failure("Valid amount is required for gift card purchase")
	}
	if amount < giftCardMinAmount {
		return http.StatusBadRequest, failure(fmt.Sprintf("Minimum gift card amount is $%d", giftCardMinAmount))
	}
	if amount > giftCardMaxAmount {
		return http.StatusBadRequest, failure(fmt.Sprintf("Maximum gift card amount is $%d", giftCardMaxAmount))
	}

	recipient := params.Str("recipientEmail")
	if recipient == "" {
		recipient = "Not specified"
	}
	purchaser := params.Str("purchaserEmail")
	if purchaser == "" {
		purchaser = "Not specified"
	}

	now := h.now()
	card := domain.GiftCard{
		CardNumber:     newCardNumber(),
		Balance:        amount,
		OriginalAmount: amount,
		PurchaseDate:   now,
		ExpiryDate:     now.AddDate(1, 0, 0),
		Status:         "active",
		PurchaserEmail: purchaser,
		RecipientEmail: recipient,
	}
	if err := h.catalog.InsertGiftCard(ctx, &card); err != nil {
		slog.Error("gift card purchase failed", "error", err)
		return http.StatusInternalServerError, failure("Failed to process gift card request")
	}

	return http.StatusOK, map[string]any{
		"success": true,
		"giftCard": map[string]any{
			"cardNumber":     card.CardNumber,
			"amount":         amount,
			"balance":        card.Balance,
			"purchaseDate":   card.PurchaseDate.Format("2006-01-02"),
			"expiryDate":     card.ExpiryDate.Format("2006-01-02"),
			"status":         card.Status,
			"recipientEmail": recipient,
			"purchaserEmail": purchaser,
			"deliveryMethod": "Email",
		},
	}
}

func (h *Handler) giftCardRedeem(ctx context.Context, params Params) (int, any) {
	cardNumber := params.Str("cardNumber")
	if cardNumber == "" {
		return http.StatusBadRequest, failure("Card number is required for redemption")
	}
	amount := params.Num("amount")
	if amount <= 0 {
		return http.StatusBadRequest, failure("Valid amount is required for redemption")
	}

	card, err := h.catalog.GetGiftCard(ctx, cardNumber)
	if err != nil {
		slog.Error("gift card lookup failed", "error", err)
		return http.StatusInternalServerError, failure("Failed to process gift card request")
	}
	if card == nil {
		return http.StatusOK, map[string]any{
			"success":    false,
			"error":      "Gift card not found",
			"cardNumber": cardNumber,
		}
	}
	if card.Status != "active" {
		return http.StatusOK, map[string]any{
			"success":    false,
			"error":      "Gift card is not active",
			"cardNumber": cardNumber,
			"status":     card.Status,
		}
	}
	if amount > card.Balance {
		return http.StatusOK, map[string]any{
			"success":          false,
			"error":            "Insufficient balance",
			"cardNumber":       cardNumber,
			"requestedAmount":  amount,
			"availableBalance": card.Balance,
		}
	}

	newBalance := card.Balance - amount
	status := "active"
	redemptionStatus := "partially_used"
	if newBalance == 0 {
		status = "used"
		redemptionStatus = "fully_used"
	}
	if err := h.catalog.UpdateGiftCard(ctx, cardNumber, newBalance, status); err != nil {
		slog.Error("gift card update failed", "error", err)
		return http.StatusInternalServerError, failure("Failed to process gift card request")
	}

	return http.StatusOK, map[string]any{
		"success": true,
		"redemption": map[string]any{
			"cardNumber":       cardNumber,
			"redeemedAmount":   amount,
			"remainingBalance": newBalance,
			"originalAmount":   card.OriginalAmount,
			"transactionId":    fmt.Sprintf("TXN-%d", h.now().UnixMilli()),
			"redemptionDate":   h.now().Format(time.RFC3339),
			"status":           redemptionStatus,
		},
	}
}

func newCardNumber() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("GC-%s-%s-%s", raw[0:4], raw[4:8], raw[8:12])
}

// parseHourRange parses "9:00-20:00" into open/close minutes since midnight.
func parseHourRange(s string) (open, close int, ok bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	open, ok = parseClock(strings.TrimSpace(parts[0]))
	if !ok {
		return 0, 0, false
	}
	close, ok = parseClock(strings.TrimSpace(parts[1]))
	if !ok {
		return 0, 0, false
	}
	return open, close, true
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%d:%02d", m/60, m%60)
}

func failure(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode tool response", "error", err)
	}
}
