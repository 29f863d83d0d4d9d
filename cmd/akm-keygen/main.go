package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"akm_gateway/internal/auth"
	"akm_gateway/internal/models"
	"akm_gateway/internal/storage"
)

// akm-keygen generates a new API key and prints the raw key exactly
// once. With -insert the hashed key is stored; only the hash ever
// reaches the database.
func main() {
	name := flag.String("name", "", "human-readable key name")
	project := flag.String("project", "", "project UUID the key belongs to")
	expires := flag.Duration("expires", 0, "key lifetime, 0 means never")
	insert := flag.Bool("insert", false, "insert the key into the database (needs DATABASE_URL)")
	flag.Parse()

	rawKey, err := auth.GenerateKey()
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}
	keyHash := auth.HashKey(rawKey)

	fmt.Printf("API key:  %s\n", rawKey)
	fmt.Printf("Key hash: %s\n", keyHash)

	if !*insert {
		return
	}

	if *name == "" || *project == "" {
		log.Fatal("-name and -project are required with -insert")
	}
	projectID, err := uuid.Parse(*project)
	if err != nil {
		log.Fatalf("Invalid project UUID: %v", err)
	}

	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required with -insert")
	}

	dbCfg := storage.DefaultDBConfig()
	dbCfg.DSN = dsn
	db, err := storage.NewDB(dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	key := &models.APIKey{
		ProjectID: projectID,
		Name:      *name,
		KeyHash:   keyHash,
		IsActive:  true,
	}
	if *expires > 0 {
		at := time.Now().UTC().Add(*expires)
		key.ExpiresAt = &at
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := storage.NewAPIKeyRepository(db).Create(ctx, key); err != nil {
		log.Fatalf("Failed to insert API key: %v", err)
	}

	fmt.Printf("Inserted key %s (%s)\n", key.ID, key.Name)
}
