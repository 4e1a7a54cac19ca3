package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"

	"tradesignal/internal/apikey"
	"tradesignal/internal/config"
	"tradesignal/internal/db"
	gormrepository "tradesignal/internal/repository/gorm"
)

func TestCreateAccount_ReusesUser(t *testing.T) {
	conn, err := db.OpenDialector(sqlite.Open(filepath.Join(t.TempDir(), "accounts.db")), config.DBConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if err := db.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := gormrepository.New(conn.Gorm)
	ctx := context.Background()

	first, key1, err := createAccount(ctx, store, " alice ", "main", "ACC-1")
	if err != nil {
		t.Fatalf("first account: %v", err)
	}
	second, key2, err := createAccount(ctx, store, "alice", "", "")
	if err != nil {
		t.Fatalf("second account: %v", err)
	}
	if first.UserID != second.UserID {
		t.Fatalf("user not reused: %d vs %d", first.UserID, second.UserID)
	}
	if key1 == key2 || len(key1) != 64 {
		t.Fatalf("unexpected keys %q %q", key1, key2)
	}
	if first.ExternalID() != "ACC-1" || second.AccountID != nil {
		t.Fatalf("unexpected account ids: %v %v", first.AccountID, second.AccountID)
	}

	got, err := store.GetActiveBrokerAccountByKeyHash(ctx, apikey.Hash(key1))
	if err != nil || got.ID != first.ID {
		t.Fatalf("lookup by key: %+v %v", got, err)
	}
	if got.APIKeyHash == key1 {
		t.Fatalf("raw key stored")
	}
}
