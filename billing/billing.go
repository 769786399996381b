package billing

import (
	"context"
	"errors"
)

var (
	// ErrServiceUnavailable is returned when the native billing service is
	// absent: the platform module is not linked, the connection was never
	// initialized, or it has already ended.
	ErrServiceUnavailable = errors.New("billing service is not available")

	// ErrUnsupportedPlatform is returned when an operation is invoked on a
	// platform this client does not target.
	ErrUnsupportedPlatform = errors.New("platform is not supported by this billing client")

	// ErrPurchaseUnassigned is returned by FinishTransaction when no purchase
	// record was supplied.
	ErrPurchaseUnassigned = errors.New("purchase is not assigned")

	// ErrPurchaseNotFinishable is returned by FinishTransaction for a
	// non-consumable that is already acknowledged or not yet purchased.
	ErrPurchaseNotFinishable = errors.New("purchase is not suitable to be finished")
)

// BuyRequest carries the arguments of a native purchase flow.
type BuyRequest struct {
	Type ItemType
	SKU  string

	// UpgradePurchaseToken is the token of an existing subscription being
	// upgraded or downgraded. Empty for fresh purchases.
	UpgradePurchaseToken string

	// ProrationMode must be ProrationNotApplicable for one-time items.
	ProrationMode ProrationMode

	ObfuscatedAccountID string
	ObfuscatedProfileID string
}

// Service is the boundary with the native billing layer. Implementations wrap
// a device-side billing client; memory.Service is an in-process fake for tests
// and development.
//
// All calls are blocking and honor ctx cancellation inside the implementation.
// This package imposes no timeout, retry, or serialization of its own.
type Service interface {
	// InitConnection establishes the billing service connection. It reports
	// whether the service is ready.
	InitConnection(ctx context.Context) (bool, error)

	// EndConnection tears down the billing service connection.
	EndConnection(ctx context.Context) error

	// GetItemsByType fetches catalog metadata for the given SKUs. Result order
	// is service-defined, not input order. An empty SKU list is passed through;
	// its behavior is service-defined.
	GetItemsByType(ctx context.Context, itemType ItemType, skus []string) ([]*Product, error)

	// GetPurchaseHistoryByType fetches past purchases of one item type.
	GetPurchaseHistoryByType(ctx context.Context, itemType ItemType) ([]*Purchase, error)

	// GetAvailableItemsByType fetches currently-owned purchases of one item
	// type: not yet consumed, or non-consumable.
	GetAvailableItemsByType(ctx context.Context, itemType ItemType) ([]*Purchase, error)

	// BuyItemByType runs a purchase flow. It resolves once the flow completes;
	// flow failures are emitted on the event channel rather than returned,
	// except for pre-flight errors. A deferred-proration flow resolves nil.
	BuyItemByType(ctx context.Context, req BuyRequest) (*Purchase, error)

	// ConsumeProduct consumes a purchase token, returning the native result.
	ConsumeProduct(ctx context.Context, token, developerPayload string) (string, error)

	// AcknowledgePurchase acknowledges a purchase token, returning the native
	// result.
	AcknowledgePurchase(ctx context.Context, token, developerPayload string) (string, error)

	// FlushFailedPurchasesCachedAsPending drops purchases the service cached
	// as pending after a failed flow, returning their tokens.
	FlushFailedPurchasesCachedAsPending(ctx context.Context) ([]string, error)

	// GetPackageName reports the application package this service bills for.
	GetPackageName(ctx context.Context) (string, error)

	// StartEmitting instructs the service to begin delivering purchase events
	// on the Events channel. Safe to call more than once.
	StartEmitting(ctx context.Context) error

	// Events is the stream of purchase-updated and purchase-error emissions.
	// Events emitted before a consumer attaches are not replayed.
	Events() <-chan Event
}
