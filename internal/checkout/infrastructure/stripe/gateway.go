package stripe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/Nazim777/SwiftMart/internal/checkout/application"
	order "github.com/Nazim777/SwiftMart/internal/order/domain"
)

const (
	metadataOrderID = "orderId"
	metadataUserID  = "userId"
)

// Gateway talks to Stripe Checkout. Outbound it creates hosted sessions;
// inbound it verifies and decodes webhook deliveries into the workflow's
// event shape.
type Gateway struct {
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewGateway(apiKey, webhookSecret, baseURL string) *Gateway {
	stripe.Key = apiKey
	return &Gateway{
		webhookSecret: webhookSecret,
		successURL:    baseURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:     baseURL + "/payment/cancel?session_id={CHECKOUT_SESSION_ID}",
	}
}

func (g *Gateway) CreateSession(ctx context.Context, ord order.Order) (application.Session, error) {
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(ord.Lines))
	for _, l := range ord.Lines {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(l.Name),
		}
		if l.Description != "" {
			product.Description = stripe.String(l.Description)
		}
		if l.ImageURL != "" {
			product.Images = stripe.StringSlice([]string{l.ImageURL})
		}
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(string(stripe.CurrencyUSD)),
				ProductData: product,
				UnitAmount:  stripe.Int64(l.UnitAmount()),
			},
			Quantity: stripe.Int64(int64(l.Quantity)),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          items,
		SuccessURL:         stripe.String(g.successURL),
		CancelURL:          stripe.String(g.cancelURL),
	}
	params.Context = ctx
	params.AddMetadata(metadataOrderID, ord.ID.String())
	params.AddMetadata(metadataUserID, ord.UserID)

	sess, err := session.New(params)
	if err != nil {
		return application.Session{}, fmt.Errorf("create checkout session: %w", err)
	}
	return application.Session{ID: sess.ID, URL: sess.URL}, nil
}

// ParseWebhook verifies the delivery signature against the endpoint secret
// and maps the two session lifecycle events to the workflow; everything else
// comes back as EventIgnored for the caller to acknowledge.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (application.InboundEvent, error) {
	ev, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return application.InboundEvent{}, fmt.Errorf("%w: %v", application.ErrBadSignature, err)
	}

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionExpired:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return application.InboundEvent{}, fmt.Errorf("%w: %v", application.ErrInvalidEvent, err)
		}
		kind := application.EventCompleted
		if ev.Type == stripe.EventTypeCheckoutSessionExpired {
			kind = application.EventExpired
		}
		return application.InboundEvent{
			ID:   ev.ID,
			Kind: kind,
			Session: application.CheckoutEvent{
				SessionID: sess.ID,
				OrderID:   sess.Metadata[metadataOrderID],
				UserID:    sess.Metadata[metadataUserID],
			},
		}, nil
	default:
		return application.InboundEvent{ID: ev.ID, Kind: application.EventIgnored}, nil
	}
}
