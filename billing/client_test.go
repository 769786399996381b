package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openiap/playbilling/billing"
	"github.com/openiap/playbilling/billing/memory"
	"github.com/openiap/playbilling/billing/tests"
	"github.com/openiap/playbilling/testutil"
)

type catalogCall struct {
	itemType billing.ItemType
	skus     []string
}

type tokenCall struct {
	token   string
	payload string
}

// stubService records every native call so tests can assert on exactly what
// the client forwards.
type stubService struct {
	catalogCalls []catalogCall
	products     []*billing.Product
	history      map[billing.ItemType][]*billing.Purchase
	available    map[billing.ItemType][]*billing.Purchase
	buyCalls     []billing.BuyRequest
	buyResult    *billing.Purchase
	consumeCalls []tokenCall
	ackCalls     []tokenCall
}

func (s *stubService) InitConnection(ctx context.Context) (bool, error) { return true, nil }
func (s *stubService) EndConnection(ctx context.Context) error          { return nil }

func (s *stubService) GetItemsByType(ctx context.Context, itemType billing.ItemType, skus []string) ([]*billing.Product, error) {
	s.catalogCalls = append(s.catalogCalls, catalogCall{itemType: itemType, skus: skus})
	return s.products, nil
}

func (s *stubService) GetPurchaseHistoryByType(ctx context.Context, itemType billing.ItemType) ([]*billing.Purchase, error) {
	return s.history[itemType], nil
}

func (s *stubService) GetAvailableItemsByType(ctx context.Context, itemType billing.ItemType) ([]*billing.Purchase, error) {
	return s.available[itemType], nil
}

func (s *stubService) BuyItemByType(ctx context.Context, req billing.BuyRequest) (*billing.Purchase, error) {
	s.buyCalls = append(s.buyCalls, req)
	return s.buyResult, nil
}

func (s *stubService) ConsumeProduct(ctx context.Context, token, payload string) (string, error) {
	s.consumeCalls = append(s.consumeCalls, tokenCall{token: token, payload: payload})
	return token, nil
}

func (s *stubService) AcknowledgePurchase(ctx context.Context, token, payload string) (string, error) {
	s.ackCalls = append(s.ackCalls, tokenCall{token: token, payload: payload})
	return token, nil
}

func (s *stubService) FlushFailedPurchasesCachedAsPending(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *stubService) GetPackageName(ctx context.Context) (string, error) {
	return "com.example.app", nil
}

func (s *stubService) StartEmitting(ctx context.Context) error { return nil }
func (s *stubService) Events() <-chan billing.Event            { return nil }

func newStubClient(svc billing.Service) *billing.Client {
	return billing.New(billing.Config{
		Platform: billing.PlatformGoogle,
		Service:  svc,
	})
}

func TestClient_GetProducts_SingleQuery(t *testing.T) {
	ctx := context.Background()

	svc := &stubService{products: tests.Catalog[:2]}
	client := newStubClient(svc)

	skus := []string{"com.example.coins.100", "com.example.remove_ads"}

	products, err := client.GetProducts(ctx, skus)
	require.NoError(t, err)
	require.Equal(t, tests.Catalog[:2], products)

	require.Len(t, svc.catalogCalls, 1)
	require.Equal(t, billing.ItemTypeInApp, svc.catalogCalls[0].itemType)
	require.Equal(t, skus, svc.catalogCalls[0].skus)

	_, err = client.GetSubscriptions(ctx, skus)
	require.NoError(t, err)
	require.Len(t, svc.catalogCalls, 2)
	require.Equal(t, billing.ItemTypeSubs, svc.catalogCalls[1].itemType)
}

func TestClient_PurchaseHistoryConcat(t *testing.T) {
	ctx := context.Background()

	inapp := []*billing.Purchase{
		{ProductID: "a", Type: billing.ItemTypeInApp},
		{ProductID: "b", Type: billing.ItemTypeInApp},
	}
	subs := []*billing.Purchase{
		{ProductID: "c", Type: billing.ItemTypeSubs},
	}

	svc := &stubService{
		history: map[billing.ItemType][]*billing.Purchase{
			billing.ItemTypeInApp: inapp,
			billing.ItemTypeSubs:  subs,
		},
		available: map[billing.ItemType][]*billing.Purchase{
			billing.ItemTypeInApp: inapp[1:],
			billing.ItemTypeSubs:  subs,
		},
	}
	client := newStubClient(svc)

	history, err := client.GetPurchaseHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "a", history[0].ProductID)
	require.Equal(t, "b", history[1].ProductID)
	require.Equal(t, "c", history[2].ProductID)

	owned, err := client.GetAvailablePurchases(ctx)
	require.NoError(t, err)
	require.Len(t, owned, 2)
	require.Equal(t, "b", owned[0].ProductID)
	require.Equal(t, "c", owned[1].ProductID)
}

func TestClient_RequestPurchase_Forwards(t *testing.T) {
	ctx := context.Background()

	svc := &stubService{buyResult: &billing.Purchase{ProductID: "com.example.coins.100"}}
	client := newStubClient(svc)

	purchase, err := client.RequestPurchase(ctx, billing.PurchaseRequest{
		SKU:                 "com.example.coins.100",
		ObfuscatedAccountID: "account-1",
		ObfuscatedProfileID: "profile-1",
	})
	require.NoError(t, err)
	require.NotNil(t, purchase)

	require.Len(t, svc.buyCalls, 1)
	call := svc.buyCalls[0]
	require.Equal(t, billing.ItemTypeInApp, call.Type)
	require.Equal(t, "com.example.coins.100", call.SKU)
	require.Equal(t, billing.ProrationNotApplicable, call.ProrationMode)
	require.Equal(t, "account-1", call.ObfuscatedAccountID)
	require.Equal(t, "profile-1", call.ObfuscatedProfileID)
	require.Empty(t, call.UpgradePurchaseToken)
}

func TestClient_RequestSubscription_Deferred(t *testing.T) {
	ctx := context.Background()

	svc := &stubService{buyResult: &billing.Purchase{ProductID: "com.example.premium.monthly"}}
	client := newStubClient(svc)

	purchase, err := client.RequestSubscription(ctx, billing.SubscriptionRequest{
		SKU:                  "com.example.premium.monthly",
		UpgradePurchaseToken: "old-token",
		ProrationMode:        billing.ProrationDeferred,
	})
	require.NoError(t, err)
	require.Nil(t, purchase)

	require.Len(t, svc.buyCalls, 1)
	require.Equal(t, billing.ItemTypeSubs, svc.buyCalls[0].Type)
	require.Equal(t, "old-token", svc.buyCalls[0].UpgradePurchaseToken)

	purchase, err = client.RequestSubscription(ctx, billing.SubscriptionRequest{
		SKU:           "com.example.premium.monthly",
		ProrationMode: billing.ProrationImmediateWithTimeProration,
	})
	require.NoError(t, err)
	require.NotNil(t, purchase)
}

func TestClient_FinishTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("nil purchase", func(t *testing.T) {
		client := newStubClient(&stubService{})
		_, err := client.FinishTransaction(ctx, nil, false, "")
		require.ErrorIs(t, err, billing.ErrPurchaseUnassigned)
	})

	t.Run("consumable always consumes", func(t *testing.T) {
		for _, purchase := range []*billing.Purchase{
			{PurchaseToken: "t1", State: billing.StatePurchased, Acknowledged: false},
			{PurchaseToken: "t2", State: billing.StatePending, Acknowledged: false},
			{PurchaseToken: "t3", State: billing.StatePurchased, Acknowledged: true},
		} {
			svc := &stubService{}
			client := newStubClient(svc)

			result, err := client.FinishTransaction(ctx, purchase, true, "payload")
			require.NoError(t, err)
			require.Equal(t, purchase.PurchaseToken, result)
			require.Equal(t, []tokenCall{{token: purchase.PurchaseToken, payload: "payload"}}, svc.consumeCalls)
			require.Empty(t, svc.ackCalls)
		}
	})

	t.Run("non-consumable acknowledges when purchased and unacknowledged", func(t *testing.T) {
		svc := &stubService{}
		client := newStubClient(svc)

		purchase := &billing.Purchase{PurchaseToken: "t1", State: billing.StatePurchased}

		result, err := client.FinishTransaction(ctx, purchase, false, "payload")
		require.NoError(t, err)
		require.Equal(t, "t1", result)
		require.Equal(t, []tokenCall{{token: "t1", payload: "payload"}}, svc.ackCalls)
		require.Empty(t, svc.consumeCalls)
	})

	t.Run("non-consumable already acknowledged", func(t *testing.T) {
		svc := &stubService{}
		client := newStubClient(svc)

		purchase := &billing.Purchase{PurchaseToken: "t1", State: billing.StatePurchased, Acknowledged: true}

		_, err := client.FinishTransaction(ctx, purchase, false, "")
		require.ErrorIs(t, err, billing.ErrPurchaseNotFinishable)
		require.Empty(t, svc.ackCalls)
		require.Empty(t, svc.consumeCalls)
	})

	t.Run("non-consumable not purchased", func(t *testing.T) {
		for _, state := range []billing.PurchaseState{billing.StateUnspecified, billing.StatePending} {
			svc := &stubService{}
			client := newStubClient(svc)

			purchase := &billing.Purchase{PurchaseToken: "t1", State: state}

			_, err := client.FinishTransaction(ctx, purchase, false, "")
			require.ErrorIs(t, err, billing.ErrPurchaseNotFinishable)
			require.Empty(t, svc.ackCalls)
			require.Empty(t, svc.consumeCalls)
		}
	})
}

func TestClient_UnsupportedPlatform(t *testing.T) {
	ctx := context.Background()

	client := billing.New(billing.Config{
		Platform: billing.PlatformApple,
		Service:  &stubService{},
	})

	_, err := client.GetProducts(ctx, []string{"sku"})
	require.ErrorIs(t, err, billing.ErrUnsupportedPlatform)

	_, err = client.GetPurchaseHistory(ctx)
	require.ErrorIs(t, err, billing.ErrUnsupportedPlatform)

	_, err = client.RequestPurchase(ctx, billing.PurchaseRequest{SKU: "sku"})
	require.ErrorIs(t, err, billing.ErrUnsupportedPlatform)
}

func TestClient_ServiceUnavailable(t *testing.T) {
	ctx := context.Background()

	client := billing.New(billing.Config{Platform: billing.PlatformGoogle})

	_, err := client.GetProducts(ctx, []string{"sku"})
	require.ErrorIs(t, err, billing.ErrServiceUnavailable)

	// EndConnection invalidates the handle for every later operation.
	client = newStubClient(&stubService{})
	require.NoError(t, client.EndConnection(ctx))

	_, err = client.GetAvailablePurchases(ctx)
	require.ErrorIs(t, err, billing.ErrServiceUnavailable)

	require.ErrorIs(t, client.EndConnection(ctx), billing.ErrServiceUnavailable)
}

func newMemoryClient(t *testing.T) (*billing.Client, *memory.Service) {
	t.Helper()

	svc := memory.New(memory.Config{
		PackageName: "com.example.app",
		Products:    tests.Catalog,
	})

	client := billing.New(billing.Config{
		Platform: billing.PlatformGoogle,
		Service:  svc,
	})

	ready, err := client.InitConnection(context.Background())
	require.NoError(t, err)
	require.True(t, ready)

	return client, svc
}

func TestClient_PurchaseUpdatedListeners(t *testing.T) {
	ctx := context.Background()

	client, _ := newMemoryClient(t)

	first := testutil.NewRecorder[*billing.Purchase]()
	second := testutil.NewRecorder[*billing.Purchase]()

	client.PurchaseUpdatedListener(first)
	subSecond := client.PurchaseUpdatedListener(second)

	_, err := client.RequestPurchase(ctx, billing.PurchaseRequest{SKU: "com.example.coins.100"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return first.Len() == 1 && second.Len() == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "com.example.coins.100", first.Events()[0].ProductID)

	// A listener attached after the emission never sees it.
	late := testutil.NewRecorder[*billing.Purchase]()
	client.PurchaseUpdatedListener(late)

	subSecond.Remove()

	_, err = client.RequestPurchase(ctx, billing.PurchaseRequest{SKU: "com.example.remove_ads"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return first.Len() == 2 && late.Len() == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "com.example.remove_ads", late.Events()[0].ProductID)
	require.Equal(t, 1, second.Len())
}

func TestClient_PurchaseErrorListener(t *testing.T) {
	ctx := context.Background()

	client, svc := newMemoryClient(t)

	updates := testutil.NewRecorder[*billing.Purchase]()
	failures := testutil.NewRecorder[*billing.PurchaseError]()

	client.PurchaseUpdatedListener(updates)
	client.PurchaseErrorListener(failures)

	svc.FailNextPurchase(&billing.PurchaseError{
		Code:      billing.ErrCodeUserCancelled,
		Message:   "user cancelled the flow",
		ProductID: "com.example.coins.100",
	})

	purchase, err := client.RequestPurchase(ctx, billing.PurchaseRequest{SKU: "com.example.coins.100"})
	require.NoError(t, err)
	require.Nil(t, purchase)

	require.Eventually(t, func() bool {
		return failures.Len() == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, billing.ErrCodeUserCancelled, failures.Events()[0].Code)
	require.Equal(t, 0, updates.Len())

	flushed, err := client.FlushFailedPurchasesCachedAsPending(ctx)
	require.NoError(t, err)
	require.Len(t, flushed, 1)
}

func TestClient_DeepLinkToSubscriptions(t *testing.T) {
	ctx := context.Background()

	svc := memory.New(memory.Config{
		PackageName: "com.example.app",
		Products:    tests.Catalog,
	})

	var opened string
	client := billing.New(billing.Config{
		Platform: billing.PlatformGoogle,
		Service:  svc,
		OpenURL: func(ctx context.Context, url string) error {
			opened = url
			return nil
		},
	})

	require.NoError(t, client.DeepLinkToSubscriptions(ctx, "com.example.premium.monthly"))
	require.Equal(t,
		"https://play.google.com/store/account/subscriptions?package=com.example.app&sku=com.example.premium.monthly",
		opened)
}
