// Package payments takes card payments for wallet topups through Stripe Checkout.
package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dukerupert/sharepool/internal/money"
	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	metaEntryID   = "topup_entry_id"
	metaAccountID = "account_id"

	EventCheckoutCompleted = "checkout.session.completed"
)

var ErrNotTopup = errors.New("checkout session is not a wallet topup")

type Config struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
}

type Client struct {
	cfg        Config
	newSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	return &Client{cfg: cfg, newSession: checksession.New}
}

// Checkout is a hosted payment page for one pending topup.
type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CreateTopupCheckout opens a one-off payment for a pending topup entry. The
// entry id travels in the session metadata and comes back on the webhook.
func (c *Client) CreateTopupCheckout(accountID, entryID int64, amount decimal.Decimal, email string) (*Checkout, error) {
	cents, err := money.ToCents(amount)
	if err != nil {
		return nil, err
	}
	ref := strconv.FormatInt(entryID, 10)
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(c.cfg.Currency),
					UnitAmount: stripe.Int64(cents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Wallet top-up"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(ref),
		Metadata: map[string]string{
			metaEntryID:   ref,
			metaAccountID: strconv.FormatInt(accountID, 10),
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	sess, err := c.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

// PaidTopup is a completed checkout for a topup entry.
type PaidTopup struct {
	EntryID     int64
	SessionID   string
	AmountCents int64
	Paid        bool
}

// ParsePaidTopup extracts the topup from a checkout.session.completed event.
func ParsePaidTopup(event stripe.Event) (*PaidTopup, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}

	raw, ok := sess.Metadata[metaEntryID]
	if !ok {
		return nil, ErrNotTopup
	}
	entryID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad entry id %q", ErrNotTopup, raw)
	}

	return &PaidTopup{
		EntryID:     entryID,
		SessionID:   sess.ID,
		AmountCents: sess.AmountTotal,
		Paid:        sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}, nil
}
