package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ignite/mailtrack/internal/config"
	"github.com/ignite/mailtrack/internal/repository/sqlite"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	listOnly, check := false, false
	snapshotTo := ""
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--list":
			listOnly = true
		case "--check":
			check = true
		case "--snapshot":
			if i+1 >= len(args) {
				log.Fatal("--snapshot needs a destination path")
			}
			i++
			snapshotTo = args[i]
		default:
			cfg.Store.Path = args[i]
		}
	}

	if listOnly {
		ms, err := sqlite.Migrations()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println("Embedded migrations:")
		for _, m := range ms {
			fmt.Println(" ", m.Version)
		}
	}

	ctx := context.Background()
	// Opening the store applies every pending migration.
	store, err := sqlite.Open(ctx, sqlite.Options{
		Path:         cfg.Store.Path,
		WriteTimeout: cfg.Store.WriteTimeout(),
		BusyTimeout:  cfg.Store.BusyTimeout(),
	})
	if err != nil {
		log.Fatalf("open store %s: %v", cfg.Store.Path, err)
	}
	defer store.Close()
	log.Printf("Store %s is at the latest schema", store.Path())

	if listOnly {
		tables, err := store.Tables(ctx)
		if err != nil {
			log.Fatal(err)
		}
		for _, t := range tables {
			fmt.Println(" ", t)
		}
		fmt.Printf("Total: %d tables\n", len(tables))
	}

	if check {
		if err := store.IntegrityCheck(ctx); err != nil {
			log.Fatalf("integrity check failed: %v", err)
		}
		log.Println("Integrity check OK")
	}

	if snapshotTo != "" {
		if err := store.Snapshot(ctx, snapshotTo); err != nil {
			log.Fatalf("snapshot: %v", err)
		}
		log.Printf("Snapshot written to %s", snapshotTo)
	}
}
