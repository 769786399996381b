package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemType selects which class of catalog item a native call operates on. The
// string values are part of the native dispatch contract and must match exactly.
type ItemType string

const (
	// ItemTypeInApp is a one-time product.
	ItemTypeInApp ItemType = "inapp"

	// ItemTypeSubs is a recurring subscription.
	ItemTypeSubs ItemType = "subs"
)

// Platform identifies the store a billing client targets. Call sites select the
// client for the platform they run on; this package implements the Google Play
// side.
type Platform uint8

const (
	PlatformUnknown Platform = iota
	PlatformGoogle
	PlatformApple
)

func (p Platform) String() string {
	switch p {
	case PlatformGoogle:
		return "google"
	case PlatformApple:
		return "apple"
	default:
		return "unknown"
	}
}

// PurchaseState mirrors the Play Billing purchase state codes.
type PurchaseState int

const (
	StateUnspecified PurchaseState = 0
	StatePurchased   PurchaseState = 1
	StatePending     PurchaseState = 2
)

// ProrationMode selects how a subscription upgrade or downgrade is charged.
// Values mirror the Play Billing proration policy codes.
type ProrationMode int

const (
	// ProrationNotApplicable is forwarded for one-time purchases, where
	// proration has no meaning.
	ProrationNotApplicable ProrationMode = -1

	ProrationUnspecified                     ProrationMode = 0
	ProrationImmediateWithTimeProration      ProrationMode = 1
	ProrationImmediateAndChargeProratedPrice ProrationMode = 2
	ProrationImmediateWithoutProration       ProrationMode = 3

	// ProrationDeferred applies the change at the next renewal. By contract a
	// deferred purchase flow resolves without a new purchase record.
	ProrationDeferred ProrationMode = 4
)

// Product is an immutable catalog snapshot returned by a catalog query.
type Product struct {
	SKU            string
	Type           ItemType
	Price          decimal.Decimal
	Currency       string
	LocalizedPrice string
	Title          string
	Description    string
}

func (p *Product) Clone() *Product {
	clone := *p
	return &clone
}

// Purchase is a record of a completed or in-flight purchase. It is mutated only
// by the native billing service; this package reads and forwards tokens.
type Purchase struct {
	ProductID           string
	Type                ItemType
	TransactionID       string
	PurchaseToken       string
	TransactionDate     time.Time
	State               PurchaseState
	Acknowledged        bool
	AutoRenewing        bool
	ObfuscatedAccountID string
	ObfuscatedProfileID string
	DeveloperPayload    string
}

func (p *Purchase) Clone() *Purchase {
	clone := *p
	return &clone
}

// PurchaseError describes a failed purchase attempt. Errors raised by the
// native layer are forwarded verbatim, either on the error event stream or as
// the rejection of the originating call.
type PurchaseError struct {
	Code      string
	Message   string
	ProductID string
}

// Native billing response codes forwarded on the error stream.
const (
	ErrCodeUnknown         = "E_UNKNOWN"
	ErrCodeUserCancelled   = "E_USER_CANCELLED"
	ErrCodeItemUnavailable = "E_ITEM_UNAVAILABLE"
	ErrCodeAlreadyOwned    = "E_ALREADY_OWNED"
	ErrCodeItemNotOwned    = "E_ITEM_NOT_OWNED"
	ErrCodeServiceError    = "E_SERVICE_ERROR"
	ErrCodeDeveloperError  = "E_DEVELOPER_ERROR"
)

func (e *PurchaseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Event is a single emission from the native billing service. Exactly one of
// Purchase or Err is set.
type Event struct {
	Purchase *Purchase
	Err      *PurchaseError
}
