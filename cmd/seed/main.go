// seed inserts development sample data for local testing: the OAuth client
// named by CLIENT_ID and a permanent dev identity. Idempotent: existing rows
// are left alone.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"ghostauth/internal/config"
	"ghostauth/internal/db"
	identitydomain "ghostauth/internal/identity/domain"
	identitystore "ghostauth/internal/identity/store"
	"ghostauth/internal/security"
	tokendomain "ghostauth/internal/token/domain"
	tokenrepo "ghostauth/internal/token/repository"
)

const (
	devClientName = "Dev Console"
	devEmail      = "dev@example.com"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "dev-client-001"
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	clients := tokenrepo.NewPostgresClientRepository(conn)
	existing, err := clients.Get(ctx, clientID)
	if err != nil {
		log.Fatalf("client check: %v", err)
	}
	if existing != nil {
		log.Printf("client %s already exists, skipping", clientID)
	} else {
		secret, err := security.GenerateSecret(security.SecretLength)
		if err != nil {
			log.Fatalf("client secret: %v", err)
		}
		hasher := security.NewHasher(cfg.BcryptCost)
		secretHash, err := hasher.Hash([]byte(secret))
		if err != nil {
			log.Fatalf("hash client secret: %v", err)
		}
		if err := clients.Create(ctx, &tokendomain.Client{
			ID:         clientID,
			Name:       devClientName,
			SecretHash: secretHash,
			CreatedAt:  now,
		}); err != nil {
			log.Fatalf("create client: %v", err)
		}
		// The secret is shown once; only its hash is stored.
		fmt.Printf("Client: %s / %s\n", clientID, secret)
	}

	store := identitystore.NewPostgresStore(conn)
	ident, err := store.Get(ctx, devEmail)
	if err != nil {
		log.Fatalf("identity check: %v", err)
	}
	if ident != nil {
		log.Printf("identity %s already exists, skipping", devEmail)
		return
	}
	if err := store.Create(ctx, &identitydomain.Identity{
		ID:        uuid.New().String(),
		Key:       devEmail,
		FirstName: "Dev",
		LastName:  "User",
		Kind:      identitydomain.KindPermanent,
		Roles:     []string{cfg.DefaultRole},
	}); err != nil {
		log.Fatalf("create identity: %v", err)
	}
	log.Printf("Seed completed. Dev identity: %s", devEmail)
}
