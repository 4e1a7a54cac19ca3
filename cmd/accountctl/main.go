package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"tradesignal/internal/apikey"
	"tradesignal/internal/config"
	"tradesignal/internal/db"
	"tradesignal/internal/models"
	"tradesignal/internal/repository"
	gormrepository "tradesignal/internal/repository/gorm"
)

func main() {
	var (
		cfgPath     = flag.String("config", "", "Config file (env: TS_CONFIG, default config/config.yaml)")
		envOnly     = flag.Bool("env-only", false, "Read configuration from TS_* environment variables only")
		username    = flag.String("username", "", "Owner username; reused when it already exists")
		accountName = flag.String("account-name", "", "Broker account display name")
		accountID   = flag.String("account-id", "", "External broker account id shown to subscribers")
	)
	flag.Parse()

	if strings.TrimSpace(*username) == "" {
		fmt.Fprintln(os.Stderr, "usage: accountctl -username NAME [-account-name NAME] [-account-id ID]")
		os.Exit(2)
	}

	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = os.Getenv("TS_CONFIG")
	}
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.Load(path, *envOnly)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open failed:", err)
		os.Exit(1)
	}
	defer db.Close(dbConn)
	if err := db.AutoMigrate(dbConn); err != nil {
		fmt.Fprintln(os.Stderr, "auto-migrate failed:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	account, rawKey, err := createAccount(ctx, gormrepository.New(dbConn.Gorm), *username, *accountName, *accountID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	fmt.Printf("user:       %s\n", strings.TrimSpace(*username))
	fmt.Printf("account:    %s (id %d)\n", account.ExternalID(), account.ID)
	fmt.Printf("api key:    %s\n", rawKey)
	fmt.Println("The API key is shown only once. Store it now.")
}

type accountStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, item *models.User) error
	CreateBrokerAccount(ctx context.Context, item *models.BrokerAccount) error
}

func createAccount(ctx context.Context, store accountStore, username, accountName, accountID string) (*models.BrokerAccount, string, error) {
	username = strings.TrimSpace(username)
	user, err := store.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		user = &models.User{Username: username}
		if err := store.CreateUser(ctx, user); err != nil {
			return nil, "", errors.Wrap(err, "create user")
		}
	case err != nil:
		return nil, "", errors.Wrap(err, "lookup user")
	}

	rawKey, err := apikey.Generate()
	if err != nil {
		return nil, "", errors.Wrap(err, "generate api key")
	}
	account := &models.BrokerAccount{
		UserID:       user.ID,
		AccountName:  strings.TrimSpace(accountName),
		APIKeyHash:   apikey.Hash(rawKey),
		ActiveStatus: models.ActiveStatusActive,
	}
	if id := strings.TrimSpace(accountID); id != "" {
		account.AccountID = &id
	}
	if err := store.CreateBrokerAccount(ctx, account); err != nil {
		return nil, "", errors.Wrap(err, "create broker account")
	}
	return account, rawKey, nil
}
