package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fabric-depot/internal/allocation"
	"github.com/odyssey-erp/fabric-depot/internal/app"
	"github.com/odyssey-erp/fabric-depot/internal/catalog"
	"github.com/odyssey-erp/fabric-depot/internal/depot"
	"github.com/odyssey-erp/fabric-depot/internal/rolls"
)

var patterns = []catalog.Pattern{
	{
		ID: "keten-100", FabricCode: "K-100", FabricName: "Keten",
		Variants: []catalog.Variant{
			{ID: "keten-100-ekru", ColorName: "Ekru"},
			{ID: "keten-100-lacivert", ColorName: "Lacivert"},
		},
	},
	{
		ID: "saten-220", FabricCode: "S-220", FabricName: "Saten",
		Variants: []catalog.Variant{
			{ID: "saten-220-zeytin", ColorName: "Zeytin"},
			{ID: "saten-220-cagla", Name: "Çağla"},
		},
	},
	{ID: "poplin-310", FabricCode: "P-310", FabricName: "Poplin"},
}

type stock struct {
	pattern string
	variant string
	color   string
	meters  int64
	count   int
}

var receipts = []stock{
	{pattern: "keten-100", variant: "keten-100-ekru", meters: 50, count: 6},
	{pattern: "keten-100", variant: "keten-100-lacivert", meters: 50, count: 4},
	{pattern: "keten-100", variant: "keten-100-lacivert", meters: 25, count: 3},
	{pattern: "saten-220", variant: "saten-220-zeytin", meters: 40, count: 5},
	{pattern: "saten-220", variant: "saten-220-cagla", meters: 40, count: 2},
	{pattern: "poplin-310", color: "Beyaz", meters: 100, count: 4},
	{pattern: "poplin-310", meters: 60, count: 2},
}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.StoreDriver == app.DriverMemory {
		log.Fatalf("seed needs a shared store; set STORE_DRIVER to redis or postgres")
	}
	rt, err := app.Open(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		log.Fatalf("open depot: %v", err)
	}
	defer rt.Close()

	fmt.Println("→ Seeding patterns...")
	for _, p := range patterns {
		if err := rt.Catalog.Put(ctx, p); err != nil {
			log.Fatalf("seed pattern %s: %v", p.ID, err)
		}
	}

	fmt.Println("→ Seeding rolls...")
	start := time.Now().UTC().AddDate(0, 0, -30).Truncate(24 * time.Hour)
	n := 0
	for _, s := range receipts {
		for i := 0; i < s.count; i++ {
			n++
			_, err := rt.Rolls.Receive(ctx, rolls.ReceiveInput{
				PatternID: s.pattern,
				VariantID: s.variant,
				ColorName: s.color,
				Meters:    decimal.NewFromInt(s.meters),
				RollNo:    fmt.Sprintf("R-%04d", n),
				InAt:      start.Add(time.Duration(n) * time.Hour),
			})
			if err != nil {
				log.Fatalf("seed roll %d: %v", n, err)
			}
		}
	}

	fmt.Println("→ Seeding transactions...")
	shipped, err := rt.Depot.BulkShip(ctx, depot.BulkRequest{
		Customer: "İpek Tekstil",
		Note:     "seed shipment",
		Selections: []depot.Selection{
			{Key: allocation.GroupKey{PatternID: "keten-100", ColorKey: "ekru", Meters: "50"}, Count: 2},
			{Key: allocation.GroupKey{PatternID: "poplin-310", ColorKey: "beyaz", Meters: "100"}, Count: 1},
		},
	})
	if err != nil {
		log.Fatalf("seed shipment: %v", err)
	}
	fmt.Println("  shipment", shipped.Transaction.ID, shipped.Outcome())

	reserved, err := rt.Depot.BulkReserve(ctx, depot.BulkRequest{
		Customer: "Çınar Konfeksiyon",
		Selections: []depot.Selection{
			{Key: allocation.GroupKey{PatternID: "saten-220", ColorKey: "zeytin", Meters: "40"}, Count: 2},
		},
	})
	if err != nil {
		log.Fatalf("seed reservation: %v", err)
	}
	fmt.Println("  reservation", reserved.Transaction.ID, reserved.Outcome())

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}
