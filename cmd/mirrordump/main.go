package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	firebase "firebase.google.com/go/v4"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// MirroredAlert matches a record under alerts/<user>/<event id>.
type MirroredAlert struct {
	ID          uint    `json:"id"`
	AlertType   string  `json:"alert_type"`
	Severity    string  `json:"severity"`
	SensorType  string  `json:"sensor_type"`
	SensorValue float64 `json:"sensor_value"`
	Message     string  `json:"message,omitempty"`
	IsResolved  bool    `json:"is_resolved"`
	CreatedAt   string  `json:"created_at"`
}

// MirroredDevice matches a record under devices/<user>/<device>.
type MirroredDevice struct {
	IsOn      bool   `json:"is_on"`
	UpdatedAt string `json:"updated_at"`
}

var userID = flag.String("user", "", "User whose mirrored alerts and devices are printed")

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
	dbURL := os.Getenv("FIREBASE_DB_URL")
	if serviceAccountJSON == "" {
		log.Fatal("FIREBASE_SERVICE_ACCOUNT_JSON environment variable is not set")
	}
	if dbURL == "" {
		log.Fatal("FIREBASE_DB_URL environment variable is not set")
	}
	if *userID == "" {
		log.Fatal("-user is required")
	}

	ctx := context.Background()
	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: dbURL}, option.WithCredentialsJSON([]byte(serviceAccountJSON)))
	if err != nil {
		log.Fatalf("Error initializing Firebase app: %v", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		log.Fatalf("Error getting database client: %v", err)
	}

	var alerts map[string]MirroredAlert
	if err := client.NewRef("alerts/"+*userID).Get(ctx, &alerts); err != nil {
		log.Fatalf("Error reading alerts: %v", err)
	}

	keys := make([]string, 0, len(alerts))
	for k := range alerts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return alerts[keys[i]].CreatedAt < alerts[keys[j]].CreatedAt })

	fmt.Printf("Alerts for %s: %d\n", *userID, len(alerts))
	for _, k := range keys {
		a := alerts[k]
		status := "open"
		if a.IsResolved {
			status = "resolved"
		}
		fmt.Printf("%s  %-8s %-28s %-15s %8.1f  %s  (%s)\n", a.CreatedAt, a.Severity, a.AlertType, a.SensorType, a.SensorValue, status, k)
	}

	var devices map[string]MirroredDevice
	if err := client.NewRef("devices/"+*userID).Get(ctx, &devices); err != nil {
		log.Fatalf("Error reading devices: %v", err)
	}
	fmt.Println("---")
	for name, d := range devices {
		state := "off"
		if d.IsOn {
			state = "on"
		}
		fmt.Printf("%-12s %-3s  updated %s\n", name, state, d.UpdatedAt)
	}
}
