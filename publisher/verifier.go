package publisher

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/openiap/playbilling/billing"
)

// Verifier validates purchase tokens through the Google Play Developer API
// with service account credentials. This is the production-grade counterpart
// to Client.ValidateReceipt.
type Verifier struct {
	svc *androidpublisher.Service

	// packageName is the Android app's package name.
	packageName string
}

func NewVerifier(ctx context.Context, serviceAccountJSON []byte, packageName string) (*Verifier, error) {
	svc, err := androidpublisher.NewService(ctx,
		option.WithCredentialsJSON(serviceAccountJSON),
		option.WithScopes(androidpublisher.AndroidpublisherScope),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create android publisher client")
	}

	return &Verifier{
		svc:         svc,
		packageName: packageName,
	}, nil
}

// VerifyProduct fetches the state of a one-time product purchase token.
func (v *Verifier) VerifyProduct(ctx context.Context, productID, purchaseToken string) (*billing.Purchase, error) {
	resp, err := v.svc.Purchases.Products.Get(v.packageName, productID, purchaseToken).Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch product purchase")
	}
	return fromProductPurchase(productID, purchaseToken, resp), nil
}

// VerifySubscription fetches the state of a subscription purchase token.
func (v *Verifier) VerifySubscription(ctx context.Context, subscriptionID, purchaseToken string) (*billing.Purchase, error) {
	resp, err := v.svc.Purchases.Subscriptions.Get(v.packageName, subscriptionID, purchaseToken).Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch subscription purchase")
	}
	return fromSubscriptionPurchase(subscriptionID, purchaseToken, resp), nil
}

func fromProductPurchase(productID, token string, resp *androidpublisher.ProductPurchase) *billing.Purchase {
	// PurchaseState: 0 purchased, 1 canceled, 2 pending.
	state := billing.StateUnspecified
	switch resp.PurchaseState {
	case 0:
		state = billing.StatePurchased
	case 2:
		state = billing.StatePending
	}

	return &billing.Purchase{
		ProductID:           productID,
		Type:                billing.ItemTypeInApp,
		TransactionID:       resp.OrderId,
		PurchaseToken:       token,
		TransactionDate:     time.UnixMilli(resp.PurchaseTimeMillis),
		State:               state,
		Acknowledged:        resp.AcknowledgementState == 1,
		ObfuscatedAccountID: resp.ObfuscatedExternalAccountId,
		ObfuscatedProfileID: resp.ObfuscatedExternalProfileId,
		DeveloperPayload:    resp.DeveloperPayload,
	}
}

func fromSubscriptionPurchase(subscriptionID, token string, resp *androidpublisher.SubscriptionPurchase) *billing.Purchase {
	// PaymentState: 0 pending, 1 received, 2 free trial, 3 deferred. It is
	// absent for canceled or expired subscriptions.
	state := billing.StatePurchased
	if resp.PaymentState != nil && (*resp.PaymentState == 0 || *resp.PaymentState == 3) {
		state = billing.StatePending
	}

	return &billing.Purchase{
		ProductID:           subscriptionID,
		Type:                billing.ItemTypeSubs,
		TransactionID:       resp.OrderId,
		PurchaseToken:       token,
		TransactionDate:     time.UnixMilli(resp.StartTimeMillis),
		State:               state,
		Acknowledged:        resp.AcknowledgementState == 1,
		AutoRenewing:        resp.AutoRenewing,
		ObfuscatedAccountID: resp.ObfuscatedExternalAccountId,
		ObfuscatedProfileID: resp.ObfuscatedExternalProfileId,
		DeveloperPayload:    resp.DeveloperPayload,
	}
}
