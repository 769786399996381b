package tests

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openiap/playbilling/billing"
)

// Catalog is the fixture every service under test must be seeded with.
var Catalog = []*billing.Product{
	{
		SKU:         "com.example.coins.100",
		Type:        billing.ItemTypeInApp,
		Price:       decimal.NewFromFloat(0.99),
		Currency:    "USD",
		Title:       "100 Coins",
		Description: "A pouch of 100 coins",
	},
	{
		SKU:         "com.example.remove_ads",
		Type:        billing.ItemTypeInApp,
		Price:       decimal.NewFromFloat(2.99),
		Currency:    "USD",
		Title:       "Remove Ads",
		Description: "Removes all advertising",
	},
	{
		SKU:         "com.example.premium.monthly",
		Type:        billing.ItemTypeSubs,
		Price:       decimal.NewFromFloat(4.99),
		Currency:    "USD",
		Title:       "Premium Monthly",
		Description: "Premium features, renewed monthly",
	},
	{
		SKU:         "com.example.premium.yearly",
		Type:        billing.ItemTypeSubs,
		Price:       decimal.NewFromFloat(49.99),
		Currency:    "USD",
		Title:       "Premium Yearly",
		Description: "Premium features, renewed yearly",
	},
}

func RunServiceTests(t *testing.T, s billing.Service, teardown func()) {
	for _, tf := range []func(t *testing.T, s billing.Service){
		testService_ConnectionLifecycle,
		testService_CatalogByType,
		testService_BuyOwnConsume,
		testService_Acknowledge,
		testService_HistoryOrder,
		testService_FlushWithoutFailures,
	} {
		tf(t, s)
		teardown()
	}
}

func testService_ConnectionLifecycle(t *testing.T, s billing.Service) {
	ctx := context.Background()

	ready, err := s.InitConnection(ctx)
	require.NoError(t, err)
	require.True(t, ready)

	require.NoError(t, s.EndConnection(ctx))

	_, err = s.GetItemsByType(ctx, billing.ItemTypeInApp, []string{"com.example.coins.100"})
	require.Error(t, err)
}

func testService_CatalogByType(t *testing.T, s billing.Service) {
	ctx := context.Background()

	_, err := s.InitConnection(ctx)
	require.NoError(t, err)

	skus := []string{"com.example.coins.100", "com.example.remove_ads", "com.example.premium.monthly"}

	products, err := s.GetItemsByType(ctx, billing.ItemTypeInApp, skus)
	require.NoError(t, err)
	require.Len(t, products, 2)
	for _, p := range products {
		require.Equal(t, billing.ItemTypeInApp, p.Type)
		require.NotEmpty(t, p.LocalizedPrice)
	}

	subs, err := s.GetItemsByType(ctx, billing.ItemTypeSubs, skus)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "com.example.premium.monthly", subs[0].SKU)
}

func testService_BuyOwnConsume(t *testing.T, s billing.Service) {
	ctx := context.Background()

	_, err := s.InitConnection(ctx)
	require.NoError(t, err)

	purchase, err := s.BuyItemByType(ctx, billing.BuyRequest{
		Type:          billing.ItemTypeInApp,
		SKU:           "com.example.coins.100",
		ProrationMode: billing.ProrationNotApplicable,
	})
	require.NoError(t, err)
	require.NotNil(t, purchase)
	require.Equal(t, "com.example.coins.100", purchase.ProductID)
	require.Equal(t, billing.StatePurchased, purchase.State)
	require.NotEmpty(t, purchase.PurchaseToken)
	require.False(t, purchase.Acknowledged)

	owned, err := s.GetAvailableItemsByType(ctx, billing.ItemTypeInApp)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, purchase.PurchaseToken, owned[0].PurchaseToken)

	result, err := s.ConsumeProduct(ctx, purchase.PurchaseToken, "payload")
	require.NoError(t, err)
	require.NotEmpty(t, result)

	owned, err = s.GetAvailableItemsByType(ctx, billing.ItemTypeInApp)
	require.NoError(t, err)
	require.Empty(t, owned)

	_, err = s.ConsumeProduct(ctx, purchase.PurchaseToken, "payload")
	require.Error(t, err)
}

func testService_Acknowledge(t *testing.T, s billing.Service) {
	ctx := context.Background()

	_, err := s.InitConnection(ctx)
	require.NoError(t, err)

	purchase, err := s.BuyItemByType(ctx, billing.BuyRequest{
		Type: billing.ItemTypeSubs,
		SKU:  "com.example.premium.monthly",
	})
	require.NoError(t, err)
	require.NotNil(t, purchase)
	require.True(t, purchase.AutoRenewing)

	_, err = s.AcknowledgePurchase(ctx, purchase.PurchaseToken, "payload")
	require.NoError(t, err)

	owned, err := s.GetAvailableItemsByType(ctx, billing.ItemTypeSubs)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.True(t, owned[0].Acknowledged)

	_, err = s.AcknowledgePurchase(ctx, "no-such-token", "payload")
	require.Error(t, err)
}

func testService_HistoryOrder(t *testing.T, s billing.Service) {
	ctx := context.Background()

	_, err := s.InitConnection(ctx)
	require.NoError(t, err)

	for _, sku := range []string{"com.example.coins.100", "com.example.remove_ads"} {
		_, err := s.BuyItemByType(ctx, billing.BuyRequest{Type: billing.ItemTypeInApp, SKU: sku})
		require.NoError(t, err)
	}

	history, err := s.GetPurchaseHistoryByType(ctx, billing.ItemTypeInApp)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "com.example.coins.100", history[0].ProductID)
	require.Equal(t, "com.example.remove_ads", history[1].ProductID)
}

func testService_FlushWithoutFailures(t *testing.T, s billing.Service) {
	ctx := context.Background()

	_, err := s.InitConnection(ctx)
	require.NoError(t, err)

	flushed, err := s.FlushFailedPurchasesCachedAsPending(ctx)
	require.NoError(t, err)
	require.Empty(t, flushed)
}
