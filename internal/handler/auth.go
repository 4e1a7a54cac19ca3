package handler

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"tradesignal/internal/apikey"
	"tradesignal/internal/models"
	"tradesignal/internal/repository"
)

const apiKeyHeader = "X-API-KEY"

var errInvalidAPIKey = errors.New("invalid API key")

type accountLookup interface {
	GetActiveBrokerAccountByKeyHash(ctx context.Context, keyHash string) (*models.BrokerAccount, error)
}

func authenticate(ctx context.Context, repo accountLookup, rawKey string) (*models.BrokerAccount, error) {
	if strings.TrimSpace(rawKey) == "" {
		return nil, errInvalidAPIKey
	}
	account, err := repo.GetActiveBrokerAccountByKeyHash(ctx, apikey.Hash(rawKey))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}
