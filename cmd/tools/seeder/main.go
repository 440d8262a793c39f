package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lib/pq"

	"github.com/noah-isme/presale-api/internal/auth"
	"github.com/noah-isme/presale-api/internal/pricing"
)

type demoDelivery struct {
	id           string
	customerID   string
	customerName string
}

type demoItem struct {
	carID     string
	model     string
	brand     string
	pieceType string
	quantity  int
	unitPrice int64
	markup    float64
}

var deliveries = []demoDelivery{
	{id: "DEL-1001", customerID: "cust-ana", customerName: "Ana Rivera"},
	{id: "DEL-1002", customerID: "cust-bruno", customerName: "Bruno Costa"},
	{id: "DEL-1003", customerID: "cust-carla", customerName: "Carla Mendes"},
}

var items = []demoItem{
	{carID: "HW-2024-017", model: "Nissan Skyline GT-R (R34)", brand: "Hot Wheels", pieceType: "premium", quantity: 12, unitPrice: 18000, markup: 15},
	{carID: "MG-64-102", model: "Porsche 911 GT3 RS", brand: "Mini GT", pieceType: "premium", quantity: 6, unitPrice: 42000, markup: 20},
	{carID: "HW-2024-088", model: "'67 Chevy Camaro", brand: "Hot Wheels", pieceType: "basic", quantity: 30, unitPrice: 3500, markup: 40},
}

func main() {
	storeID := flag.String("store", "default", "store to seed")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed admin token")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	log.Printf("Seeding store %q", *storeID)
	seedDeliveries(db, *storeID)
	seedItems(db, *storeID)
	printAdminToken(*tokenTTL)

	log.Println("Seeding completed successfully!")
}

func seedDeliveries(db *sql.DB, storeID string) {
	for _, d := range deliveries {
		_, err := db.Exec(`
			INSERT INTO deliveries (id, store_id, customer_id, customer_name)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (store_id, id) DO NOTHING`,
			d.id, storeID, d.customerID, d.customerName)
		if err != nil {
			log.Fatalf("Failed to seed delivery %s: %v", d.id, err)
		}
	}
	log.Printf("Seeded %d deliveries", len(deliveries))
}

func seedItems(db *sql.DB, storeID string) {
	now := time.Now().UTC()
	seeded := 0
	for _, it := range items {
		finalPrice := pricing.ApplyMarkup(it.unitPrice, it.markup)
		res, err := db.Exec(`
			INSERT INTO presale_items (
				id, store_id, car_id, car_model, brand, piece_type, condition, purchase_ids,
				unit_price, markup_percentage, final_price_per_unit,
				quantity, assigned_quantity, available_quantity, status, start_date
			) VALUES ($1, $2, $3, $4, $5, $6, 'mint', $7, $8, $9, $10, $11, 0, $11, 'purchased', $12)
			ON CONFLICT (store_id, car_id) WHERE status <> 'cancelled' DO NOTHING`,
			uuid.NewString(), storeID, it.carID, it.model, it.brand, it.pieceType,
			pq.Array([]string{"PO-" + strings.ReplaceAll(it.carID, "-", "")}),
			it.unitPrice, it.markup, finalPrice, it.quantity, now)
		if err != nil {
			log.Fatalf("Failed to seed presale item %s: %v", it.carID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			seeded++
		}
	}
	log.Printf("Seeded %d presale items (%d already present)", seeded, len(items)-seeded)
}

func printAdminToken(ttl time.Duration) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Println("JWT_SECRET not set, skipping admin token")
		return
	}
	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:   secret,
		Issuer:   os.Getenv("JWT_ISSUER"),
		Audience: os.Getenv("JWT_AUDIENCE"),
	})
	if err != nil {
		log.Fatalf("Failed to build token signer: %v", err)
	}
	token, err := verifier.Sign("seed-admin", []string{"admin"}, ttl)
	if err != nil {
		log.Fatalf("Failed to sign admin token: %v", err)
	}
	fmt.Printf("Admin token (valid %s):\n%s\n", ttl, token)
}
