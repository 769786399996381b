package memory

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/openiap/playbilling/billing"
)

const defaultPendingTTL = 30 * time.Minute

type Config struct {
	// PackageName is the application package the service bills for.
	PackageName string

	// Products seeds the catalog. Products without a LocalizedPrice get one
	// formatted from Price and Currency.
	Products []*billing.Product

	// PendingTTL bounds how long a failed purchase stays cached as pending.
	// Defaults to 30 minutes.
	PendingTTL time.Duration
}

// Service is an in-memory stand-in for the device-side billing service, for
// tests and development. Purchase flows resolve synchronously: a buy succeeds
// against the seeded catalog and emits a purchase-updated event, or fails and
// emits a purchase-error event while caching the attempt as pending.
type Service struct {
	packageName string

	mu        sync.RWMutex
	connected bool
	catalog   []*billing.Product
	owned     []*billing.Purchase
	history   []*billing.Purchase
	failNext  *billing.PurchaseError

	// Failed purchases cached as pending, drained by
	// FlushFailedPurchasesCachedAsPending. The cache owns expiry; the token
	// slice keeps flush order.
	pending       *ttlcache.Cache
	pendingTokens []string

	emitMu   sync.Mutex
	emitting bool
	events   chan billing.Event
}

func New(cfg Config) *Service {
	ttl := cfg.PendingTTL
	if ttl == 0 {
		ttl = defaultPendingTTL
	}

	pending := ttlcache.NewCache()
	pending.SetTTL(ttl)

	catalog := make([]*billing.Product, 0, len(cfg.Products))
	for _, p := range cfg.Products {
		clone := p.Clone()
		if clone.LocalizedPrice == "" {
			clone.LocalizedPrice = localizedPrice(clone)
		}
		catalog = append(catalog, clone)
	}

	return &Service{
		packageName: cfg.PackageName,
		catalog:     catalog,
		pending:     pending,
		events:      make(chan billing.Event, 64),
	}
}

var _ billing.Service = (*Service)(nil)

func (s *Service) InitConnection(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = true
	return true, nil
}

func (s *Service) EndConnection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	return nil
}

func (s *Service) GetItemsByType(ctx context.Context, itemType billing.ItemType, skus []string) ([]*billing.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, errNotConnected()
	}

	requested := make(map[string]bool, len(skus))
	for _, sku := range skus {
		requested[sku] = true
	}

	var products []*billing.Product
	for _, p := range s.catalog {
		if p.Type == itemType && requested[p.SKU] {
			products = append(products, p.Clone())
		}
	}
	return products, nil
}

func (s *Service) GetPurchaseHistoryByType(ctx context.Context, itemType billing.ItemType) ([]*billing.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, errNotConnected()
	}

	var purchases []*billing.Purchase
	for _, p := range s.history {
		if p.Type == itemType {
			purchases = append(purchases, p.Clone())
		}
	}
	return purchases, nil
}

func (s *Service) GetAvailableItemsByType(ctx context.Context, itemType billing.ItemType) ([]*billing.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, errNotConnected()
	}

	var purchases []*billing.Purchase
	for _, p := range s.owned {
		if p.Type == itemType {
			purchases = append(purchases, p.Clone())
		}
	}
	return purchases, nil
}

func (s *Service) BuyItemByType(ctx context.Context, req billing.BuyRequest) (*billing.Purchase, error) {
	s.mu.Lock()

	if !s.connected {
		s.mu.Unlock()
		return nil, errNotConnected()
	}

	if fail := s.failNext; fail != nil {
		s.failNext = nil
		token := newPurchaseToken()
		s.pending.Set(token, fail)
		s.pendingTokens = append(s.pendingTokens, token)
		s.mu.Unlock()

		// A failed flow reports through the error stream; the call itself
		// resolves empty.
		s.emit(billing.Event{Err: fail})
		return nil, nil
	}

	var product *billing.Product
	for _, p := range s.catalog {
		if p.Type == req.Type && p.SKU == req.SKU {
			product = p
			break
		}
	}
	if product == nil {
		s.mu.Unlock()

		perr := &billing.PurchaseError{
			Code:      billing.ErrCodeItemUnavailable,
			Message:   "sku is not in the catalog: " + req.SKU,
			ProductID: req.SKU,
		}
		s.emit(billing.Event{Err: perr})
		return nil, nil
	}

	if req.UpgradePurchaseToken != "" {
		s.removeOwnedLocked(req.UpgradePurchaseToken)
	}

	purchase := &billing.Purchase{
		ProductID:           product.SKU,
		Type:                product.Type,
		TransactionID:       fmt.Sprintf("GPA.%s", uuid.NewString()),
		PurchaseToken:       newPurchaseToken(),
		TransactionDate:     time.Now(),
		State:               billing.StatePurchased,
		AutoRenewing:        product.Type == billing.ItemTypeSubs,
		ObfuscatedAccountID: req.ObfuscatedAccountID,
		ObfuscatedProfileID: req.ObfuscatedProfileID,
	}

	if req.ProrationMode == billing.ProrationDeferred {
		// The swap happens at the next renewal; no new record yet.
		s.mu.Unlock()
		return nil, nil
	}

	s.owned = append(s.owned, purchase)
	s.history = append(s.history, purchase.Clone())
	s.mu.Unlock()

	s.emit(billing.Event{Purchase: purchase.Clone()})
	return purchase.Clone(), nil
}

func (s *Service) ConsumeProduct(ctx context.Context, token, developerPayload string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return "", errNotConnected()
	}

	if !s.removeOwnedLocked(token) {
		return "", &billing.PurchaseError{
			Code:    billing.ErrCodeItemNotOwned,
			Message: "purchase token is not owned",
		}
	}
	return token, nil
}

func (s *Service) AcknowledgePurchase(ctx context.Context, token, developerPayload string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return "", errNotConnected()
	}

	for _, p := range s.owned {
		if p.PurchaseToken == token {
			p.Acknowledged = true
			p.DeveloperPayload = developerPayload
			return token, nil
		}
	}
	return "", &billing.PurchaseError{
		Code:    billing.ErrCodeItemNotOwned,
		Message: "purchase token is not owned",
	}
}

func (s *Service) FlushFailedPurchasesCachedAsPending(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, errNotConnected()
	}

	var flushed []string
	for _, token := range s.pendingTokens {
		if _, ok := s.pending.Get(token); ok {
			flushed = append(flushed, token)
		}
	}
	s.pending.Purge()
	s.pendingTokens = nil
	return flushed, nil
}

func (s *Service) GetPackageName(ctx context.Context) (string, error) {
	return s.packageName, nil
}

func (s *Service) StartEmitting(ctx context.Context) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.emitting = true
	return nil
}

func (s *Service) Events() <-chan billing.Event {
	return s.events
}

// FailNextPurchase makes the next BuyItemByType fail with the given error,
// caching the attempt as pending. Test hook.
func (s *Service) FailNextPurchase(perr *billing.PurchaseError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failNext = perr
}

func (s *Service) emit(e billing.Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if !s.emitting {
		return
	}

	// Drop rather than block when nobody drains the channel.
	select {
	case s.events <- e:
	default:
	}
}

func (s *Service) removeOwnedLocked(token string) bool {
	for i, p := range s.owned {
		if p.PurchaseToken == token {
			s.owned = append(s.owned[:i], s.owned[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.owned = nil
	s.history = nil
	s.failNext = nil
	s.pending.Purge()
	s.pendingTokens = nil
	s.connected = false
}

func errNotConnected() *billing.PurchaseError {
	return &billing.PurchaseError{
		Code:    billing.ErrCodeServiceError,
		Message: "billing connection is not initialized",
	}
}

func newPurchaseToken() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return base58.Encode(buf)
}

func localizedPrice(p *billing.Product) string {
	unit, err := currency.ParseISO(p.Currency)
	if err != nil {
		return p.Price.StringFixed(2)
	}
	amount, _ := p.Price.Float64()
	return message.NewPrinter(language.English).Sprintf("%v", currency.Symbol(unit.Amount(amount)))
}
