package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"

	"github.com/warely/warely/pkg/plans"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PricePoint identifies the tier and cycle a Paddle price id sells.
type PricePoint struct {
	Tier  plans.Tier
	Cycle BillingCycle
}

// PaddleProvider implements BillingProvider for Paddle. The price map binds
// Paddle catalog price ids to plan tiers in both directions: outgoing
// checkouts and incoming webhook events.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	prices   map[string]PricePoint
}

// NewPaddleProvider creates a Paddle billing provider.
func NewPaddleProvider(config PaddleConfig, prices map[string]PricePoint) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if len(prices) == 0 {
		return nil, errors.New("paddle: at least one price mapping is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		prices:   prices,
	}, nil
}

// CreateCheckoutLink creates a hosted checkout session in Paddle.
func (p *PaddleProvider) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	priceID, err := p.priceID(req.Tier, req.Cycle)
	if err != nil {
		return nil, err
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"tenant_id": req.TenantID.String(),
		},
	}
	if req.Email != "" {
		transactionReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutLink{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour), // Paddle checkout links typically expire in 24 hours
	}, nil
}

// ParseWebhook validates the payload signature and returns the normalized event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	// The verifier works on http.Requests, so wrap the raw payload in one.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	var paddleEvent struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	event := &Event{
		Type:          mapPaddleEventType(paddleEvent.EventType),
		ProviderEvent: paddleEvent.EventType,
		Raw:           paddleEvent.Data,
	}
	if occurred, err := time.Parse(time.RFC3339, paddleEvent.OccurredAt); err == nil {
		event.OccurredAt = occurred
	}

	data := paddleEvent.Data

	if customData, ok := data["custom_data"].(map[string]any); ok {
		if raw, ok := customData["tenant_id"].(string); ok {
			if tenantID, err := uuid.Parse(raw); err == nil {
				event.TenantID = tenantID
			}
		}
	}

	if strings.HasPrefix(paddleEvent.EventType, "subscription.") {
		if subID, ok := data["id"].(string); ok {
			event.ProviderSubID = subID
		}
	}
	if strings.HasPrefix(paddleEvent.EventType, "transaction.") {
		if subID, ok := data["subscription_id"].(string); ok {
			event.ProviderSubID = subID
		}
	}

	if priceID := extractPaddlePriceID(data); priceID != "" {
		if point, ok := p.prices[priceID]; ok {
			event.Tier = point.Tier
			event.Cycle = point.Cycle
		}
	}

	if period, ok := data["current_billing_period"].(map[string]any); ok {
		if raw, ok := period["starts_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				event.PeriodStart = t
			}
		}
		if raw, ok := period["ends_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				event.PeriodEnd = t
			}
		}
	}

	return event, nil
}

func (p *PaddleProvider) priceID(tier plans.Tier, cycle BillingCycle) (string, error) {
	for id, point := range p.prices {
		if point.Tier == tier && point.Cycle == cycle {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: no paddle price for tier %q cycle %q", ErrPlanNotFound, tier, cycle)
}

// extractPaddlePriceID digs the price id out of the event's items list.
// Subscription events nest it under price.id, transaction events use price_id.
func extractPaddlePriceID(data map[string]any) string {
	items, ok := data["items"].([]any)
	if !ok || len(items) == 0 {
		return ""
	}
	item, ok := items[0].(map[string]any)
	if !ok {
		return ""
	}
	if price, ok := item["price"].(map[string]any); ok {
		if id, ok := price["id"].(string); ok {
			return id
		}
	}
	if id, ok := item["price_id"].(string); ok {
		return id
	}
	return ""
}

// mapPaddleEventType maps Paddle event types to normalized EventTypes.
func mapPaddleEventType(paddleEvent string) EventType {
	switch paddleEvent {
	case "subscription.created", "subscription.activated", "transaction.completed":
		return EventSubscriptionActivated
	case "subscription.updated":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionCanceled
	case "subscription.resumed":
		return EventSubscriptionResumed
	case "transaction.payment_succeeded":
		return EventPaymentSucceeded
	case "transaction.payment_failed":
		return EventPaymentFailed
	default:
		// Unmapped events pass through and are ignored downstream.
		return EventType(paddleEvent)
	}
}
