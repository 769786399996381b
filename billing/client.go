package billing

import (
	"context"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openiap/playbilling/event"
)

const subscriptionsURL = "https://play.google.com/store/account/subscriptions"

// OpenURLFunc hands a deep-link URL to the host's URL-opening facility.
type OpenURLFunc func(ctx context.Context, url string) error

type Config struct {
	// Platform is the store the process runs against. Operations on any
	// platform other than PlatformGoogle fail with ErrUnsupportedPlatform.
	Platform Platform

	// Service is the native billing boundary. A nil Service makes every
	// operation fail with ErrServiceUnavailable.
	Service Service

	// OpenURL is used by DeepLinkToSubscriptions. Optional.
	OpenURL OpenURLFunc

	// Log defaults to a no-op logger.
	Log *zap.Logger
}

// Client is the Google Play side of the cross-platform billing facade. It
// forwards every operation to the configured Service after resolving platform
// and availability, and bridges the service's event channel to subscribed
// listeners.
//
// Client is safe for concurrent use. It does not serialize purchase flows; if
// the billing UI disallows concurrent flows, that constraint is enforced
// natively.
type Client struct {
	log      *zap.Logger
	platform Platform
	openURL  OpenURLFunc

	mu  sync.RWMutex
	svc Service

	updates   *event.Bus[*Purchase]
	purchErrs *event.Bus[*PurchaseError]
	startPump sync.Once
}

func New(cfg Config) *Client {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		log:       log,
		platform:  cfg.Platform,
		openURL:   cfg.OpenURL,
		svc:       cfg.Service,
		updates:   event.NewBus[*Purchase](),
		purchErrs: event.NewBus[*PurchaseError](),
	}
}

// service resolves the native billing handle, failing fast when the platform
// is unmatched or the handle is absent. Every operation goes through here
// before touching the native layer.
func (c *Client) service() (Service, error) {
	if c.platform != PlatformGoogle {
		return nil, errors.Wrapf(ErrUnsupportedPlatform, "platform %s", c.platform)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.svc == nil {
		return nil, ErrServiceUnavailable
	}
	return c.svc, nil
}

// InitConnection establishes the native billing connection.
func (c *Client) InitConnection(ctx context.Context) (bool, error) {
	svc, err := c.service()
	if err != nil {
		return false, err
	}
	return svc.InitConnection(ctx)
}

// EndConnection tears down the native billing connection and invalidates the
// client; subsequent operations fail with ErrServiceUnavailable.
func (c *Client) EndConnection(ctx context.Context) error {
	if c.platform != PlatformGoogle {
		return errors.Wrapf(ErrUnsupportedPlatform, "platform %s", c.platform)
	}

	c.mu.Lock()
	svc := c.svc
	c.svc = nil
	c.mu.Unlock()

	if svc == nil {
		return ErrServiceUnavailable
	}
	return svc.EndConnection(ctx)
}

// GetProducts fetches one-time product metadata for the given SKUs. Result
// order is as returned by the native layer, not input order.
func (c *Client) GetProducts(ctx context.Context, skus []string) ([]*Product, error) {
	svc, err := c.service()
	if err != nil {
		return nil, err
	}

	products, err := svc.GetItemsByType(ctx, ItemTypeInApp, skus)
	if err != nil {
		return nil, err
	}
	return postProcess(products), nil
}

// GetSubscriptions fetches subscription metadata for the given SKUs.
func (c *Client) GetSubscriptions(ctx context.Context, skus []string) ([]*Product, error) {
	svc, err := c.service()
	if err != nil {
		return nil, err
	}

	products, err := svc.GetItemsByType(ctx, ItemTypeSubs, skus)
	if err != nil {
		return nil, err
	}
	return postProcess(products), nil
}

// postProcess is reserved for enriching catalog results before they are
// returned. It currently returns its input unchanged.
func postProcess(products []*Product) []*Product {
	return products
}

// GetPurchaseHistory returns past one-time purchases followed by past
// subscription purchases, each sub-list in native order. No de-duplication,
// no sorting.
func (c *Client) GetPurchaseHistory(ctx context.Context) ([]*Purchase, error) {
	svc, err := c.service()
	if err != nil {
		return nil, err
	}

	inapp, err := svc.GetPurchaseHistoryByType(ctx, ItemTypeInApp)
	if err != nil {
		return nil, err
	}
	subs, err := svc.GetPurchaseHistoryByType(ctx, ItemTypeSubs)
	if err != nil {
		return nil, err
	}
	return append(inapp, subs...), nil
}

// GetAvailablePurchases returns currently-owned one-time purchases followed by
// currently-owned subscriptions, same concatenation as GetPurchaseHistory.
func (c *Client) GetAvailablePurchases(ctx context.Context) ([]*Purchase, error) {
	svc, err := c.service()
	if err != nil {
		return nil, err
	}

	inapp, err := svc.GetAvailableItemsByType(ctx, ItemTypeInApp)
	if err != nil {
		return nil, err
	}
	subs, err := svc.GetAvailableItemsByType(ctx, ItemTypeSubs)
	if err != nil {
		return nil, err
	}
	return append(inapp, subs...), nil
}

// PurchaseRequest configures a one-time purchase flow.
type PurchaseRequest struct {
	SKU string

	// ObfuscatedAccountID is an obfuscated identifier of the buyer account,
	// forwarded to the store for fraud detection. Optional.
	ObfuscatedAccountID string

	// ObfuscatedProfileID is an obfuscated identifier of the buyer profile
	// within the account. Optional.
	ObfuscatedProfileID string
}

// RequestPurchase initiates a one-time purchase flow. The call resolves once
// the billing UI flow completes; flow failures are delivered on the error
// event stream, not as a rejection here, except for pre-flight errors.
func (c *Client) RequestPurchase(ctx context.Context, req PurchaseRequest) (*Purchase, error) {
	svc, err := c.service()
	if err != nil {
		return nil, err
	}

	c.log.Debug("Requesting purchase", zap.String("sku", req.SKU))

	return svc.BuyItemByType(ctx, BuyRequest{
		Type:                ItemTypeInApp,
		SKU:                 req.SKU,
		ProrationMode:       ProrationNotApplicable,
		ObfuscatedAccountID: req.ObfuscatedAccountID,
		ObfuscatedProfileID: req.ObfuscatedProfileID,
	})
}

// SubscriptionRequest configures a subscription purchase flow.
type SubscriptionRequest struct {
	SKU string

	// UpgradePurchaseToken is the token of the subscription being upgraded or
	// downgraded. Empty for a fresh subscription.
	UpgradePurchaseToken string

	// ProrationMode defaults to ProrationUnspecified.
	ProrationMode ProrationMode

	ObfuscatedAccountID string
	ObfuscatedProfileID string
}

// RequestSubscription initiates a subscription purchase flow. When
// req.ProrationMode is ProrationDeferred the change applies at the next
// renewal and the result is nil by contract; every other mode resolves to the
// new purchase record.
func (c *Client) RequestSubscription(ctx context.Context, req SubscriptionRequest) (*Purchase, error) {
	svc, err := c.service()
	if err != nil {
		return nil, err
	}

	c.log.Debug("Requesting subscription",
		zap.String("sku", req.SKU),
		zap.Int("proration_mode", int(req.ProrationMode)))

	purchase, err := svc.BuyItemByType(ctx, BuyRequest{
		Type:                 ItemTypeSubs,
		SKU:                  req.SKU,
		UpgradePurchaseToken: req.UpgradePurchaseToken,
		ProrationMode:        req.ProrationMode,
		ObfuscatedAccountID:  req.ObfuscatedAccountID,
		ObfuscatedProfileID:  req.ObfuscatedProfileID,
	})
	if err != nil {
		return nil, err
	}

	if req.ProrationMode == ProrationDeferred {
		// Deferred changes produce no purchase record until the next renewal.
		return nil, nil
	}
	return purchase, nil
}

// FinishTransaction completes a purchase. A consumable is always consumed. A
// non-consumable is acknowledged only when it is unacknowledged and in the
// purchased state; any other combination fails with ErrPurchaseNotFinishable
// rather than silently succeeding.
func (c *Client) FinishTransaction(ctx context.Context, purchase *Purchase, consumable bool, developerPayload string) (string, error) {
	svc, err := c.service()
	if err != nil {
		return "", err
	}

	if purchase == nil {
		return "", ErrPurchaseUnassigned
	}

	if consumable {
		return svc.ConsumeProduct(ctx, purchase.PurchaseToken, developerPayload)
	}
	if !purchase.Acknowledged && purchase.State == StatePurchased {
		return svc.AcknowledgePurchase(ctx, purchase.PurchaseToken, developerPayload)
	}

	c.log.Warn("Refusing to finish purchase",
		zap.String("product_id", purchase.ProductID),
		zap.Bool("acknowledged", purchase.Acknowledged),
		zap.Int("state", int(purchase.State)))
	return "", ErrPurchaseNotFinishable
}

// AcknowledgePurchase acknowledges a purchase token directly, independent of
// the FinishTransaction decision table, for callers managing state manually.
func (c *Client) AcknowledgePurchase(ctx context.Context, token, developerPayload string) (string, error) {
	svc, err := c.service()
	if err != nil {
		return "", err
	}
	return svc.AcknowledgePurchase(ctx, token, developerPayload)
}

// ConsumePurchase consumes a purchase token directly.
func (c *Client) ConsumePurchase(ctx context.Context, token, developerPayload string) (string, error) {
	svc, err := c.service()
	if err != nil {
		return "", err
	}
	return svc.ConsumeProduct(ctx, token, developerPayload)
}

// FlushFailedPurchasesCachedAsPending drops purchases the native layer cached
// as pending after failed flows, returning their tokens.
func (c *Client) FlushFailedPurchasesCachedAsPending(ctx context.Context) ([]string, error) {
	svc, err := c.service()
	if err != nil {
		return nil, err
	}
	return svc.FlushFailedPurchasesCachedAsPending(ctx)
}

// PurchaseUpdatedListener attaches a listener to the purchase-updated stream.
// The first registration signals the native layer to start emitting. Every
// listener receives every subsequent event; events emitted before registration
// are not replayed. The caller releases the returned subscription to stop
// receiving events.
func (c *Client) PurchaseUpdatedListener(h event.Handler[*Purchase]) *event.Subscription {
	if svc, err := c.service(); err == nil {
		c.startPump.Do(func() { c.pump(svc) })
	}
	return c.updates.Subscribe(h)
}

// PurchaseErrorListener attaches a listener to the purchase-error stream. It
// does not signal the native layer to start emitting.
func (c *Client) PurchaseErrorListener(h event.Handler[*PurchaseError]) *event.Subscription {
	return c.purchErrs.Subscribe(h)
}

func (c *Client) pump(svc Service) {
	if err := svc.StartEmitting(context.Background()); err != nil {
		c.log.Warn("Failed to start native event emission", zap.Error(err))
	}

	go func() {
		for e := range svc.Events() {
			switch {
			case e.Purchase != nil:
				c.updates.Publish(e.Purchase)
			case e.Err != nil:
				c.purchErrs.Publish(e.Err)
			}
		}
	}()
}

// DeepLinkToSubscriptions opens the store's subscription management screen for
// the given SKU via the configured URL opener.
func (c *Client) DeepLinkToSubscriptions(ctx context.Context, sku string) error {
	svc, err := c.service()
	if err != nil {
		return err
	}
	if c.openURL == nil {
		return errors.New("no URL opener configured")
	}

	pkg, err := svc.GetPackageName(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to resolve package name")
	}

	q := url.Values{}
	q.Set("package", pkg)
	q.Set("sku", sku)
	return c.openURL(ctx, subscriptionsURL+"?"+q.Encode())
}
