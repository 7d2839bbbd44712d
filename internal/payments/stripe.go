package payments

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
)

// StripeCheckout implements CheckoutAPI against the Stripe API.
type StripeCheckout struct {
	successURL string
	cancelURL  string
}

// NewStripeCheckout configures the package-level Stripe client. Call
// once at startup.
func NewStripeCheckout(secretKey, successURL, cancelURL string) *StripeCheckout {
	stripe.Key = secretKey
	return &StripeCheckout{successURL: successURL, cancelURL: cancelURL}
}

func (c *StripeCheckout) CreateSession(_ context.Context, userID string, amountUSD, amountWC int64) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(amountUSD * 100),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(fmt.Sprintf("%d Worship Coins", amountWC)),
						Description: stripe.String("Coin purchase"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"user_id":   userID,
			"amount_wc": strconv.FormatInt(amountWC, 10),
		},
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{
		ID:            sess.ID,
		URL:           sess.URL,
		UserID:        userID,
		AmountWC:      amountWC,
		PaymentStatus: string(sess.PaymentStatus),
		Completed:     sess.Status == stripe.CheckoutSessionStatusComplete,
	}, nil
}

func (c *StripeCheckout) GetSession(_ context.Context, sessionID string) (*CheckoutSession, error) {
	sess, err := session.Get(sessionID, nil)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.HTTPStatusCode == 404 {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sessionFromStripe(sess), nil
}

func sessionFromStripe(sess *stripe.CheckoutSession) *CheckoutSession {
	amountWC, _ := strconv.ParseInt(sess.Metadata["amount_wc"], 10, 64)
	return &CheckoutSession{
		ID:            sess.ID,
		URL:           sess.URL,
		UserID:        sess.Metadata["user_id"],
		AmountWC:      amountWC,
		PaymentStatus: string(sess.PaymentStatus),
		Completed:     sess.Status == stripe.CheckoutSessionStatusComplete,
	}
}
