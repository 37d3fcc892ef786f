package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "modernc.org/sqlite"
)

// verify_schema opens a cyclebot database and checks that every table the
// engine writes to exists, printing row counts as it goes.
//
// Usage:
//   go run ./scripts/verify_schema.go [path/to/cyclebot.db]

func main() {
	dbPath := "./data/cyclebot.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	fmt.Printf("Verifying database at: %s\n\n", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	tables := []string{"cycles", "signals", "trades", "users", "strategies"}
	missing := 0
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err == sql.ErrNoRows {
			fmt.Printf("❌ %-18s MISSING\n", table)
			missing++
			continue
		}
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			log.Fatalf("Count failed for %s: %v", table, err)
		}
		fmt.Printf("✓ %-18s %d rows\n", table, count)
	}

	if missing > 0 {
		fmt.Printf("\n%d table(s) missing; run the bot once to apply migrations\n", missing)
		os.Exit(1)
	}
	fmt.Println("\nSchema OK")
}
