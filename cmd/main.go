package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openiap/playbilling/billing"
	"github.com/openiap/playbilling/billing/memory"
	"github.com/openiap/playbilling/event"
)

// Runs a purchase through the full facade against the in-memory billing
// service. Point receipt lookups at the real publisher API via the publisher
// package when PLAY_PACKAGE_NAME and credentials are configured.
func main() {
	_ = godotenv.Load()

	pkgName := os.Getenv("PLAY_PACKAGE_NAME")
	if pkgName == "" {
		pkgName = "com.example.app"
	}

	svc := memory.New(memory.Config{
		PackageName: pkgName,
		Products: []*billing.Product{
			{
				SKU:      "com.example.coins.100",
				Type:     billing.ItemTypeInApp,
				Price:    decimal.NewFromFloat(0.99),
				Currency: "USD",
				Title:    "100 Coins",
			},
		},
	})

	client := billing.New(billing.Config{
		Platform: billing.PlatformGoogle,
		Service:  svc,
		Log:      zap.Must(zap.NewDevelopment()),
	})

	ctx := context.Background()

	if _, err := client.InitConnection(ctx); err != nil {
		log.Fatal("Failed to init connection:", err)
	}

	sub := client.PurchaseUpdatedListener(event.HandlerFunc[*billing.Purchase](func(p *billing.Purchase) {
		fmt.Println("purchase updated:", p.ProductID, p.PurchaseToken)
	}))
	defer sub.Remove()

	products, err := client.GetProducts(ctx, []string{"com.example.coins.100"})
	if err != nil {
		log.Fatal("Failed to fetch products:", err)
	}
	for _, p := range products {
		fmt.Println("product:", p.SKU, p.LocalizedPrice)
	}

	purchase, err := client.RequestPurchase(ctx, billing.PurchaseRequest{SKU: "com.example.coins.100"})
	if err != nil {
		log.Fatal("Failed to request purchase:", err)
	}

	result, err := client.FinishTransaction(ctx, purchase, true, "")
	if err != nil {
		log.Fatal("Failed to finish transaction:", err)
	}
	fmt.Println("finished:", result)

	if err := client.EndConnection(ctx); err != nil {
		log.Fatal("Failed to end connection:", err)
	}
}
