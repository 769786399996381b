package cache

import (
	"context"
	"strings"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/openiap/playbilling/billing"
)

// Service caches catalog query results in front of another billing service.
// Catalog metadata changes rarely, so entries expire on TTL only. Every other
// call passes straight through.
type Service struct {
	billing.Service
	cache *ttlcache.Cache
}

func NewInCache(svc billing.Service, ttl time.Duration) billing.Service {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	return &Service{
		Service: svc,
		cache:   cache,
	}
}

func (c *Service) GetItemsByType(ctx context.Context, itemType billing.ItemType, skus []string) ([]*billing.Product, error) {
	cacheKey := toCacheKey(itemType, skus)

	cached, ok := c.cache.Get(cacheKey)
	if !ok {
		products, err := c.Service.GetItemsByType(ctx, itemType, skus)
		if err != nil {
			return nil, err
		}

		c.cache.Set(cacheKey, cloneProducts(products))
		return products, nil
	}

	return cloneProducts(cached.([]*billing.Product)), nil
}

func toCacheKey(itemType billing.ItemType, skus []string) string {
	return string(itemType) + "|" + strings.Join(skus, ",")
}

func cloneProducts(products []*billing.Product) []*billing.Product {
	copied := make([]*billing.Product, len(products))
	for i, p := range products {
		copied[i] = p.Clone()
	}
	return copied
}
