package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// defaultExpirationBufferDays applies when the tenant has no
// expiration_buffer_days setting or the stored value is unusable.
const defaultExpirationBufferDays = 3

const expirationBufferKey = "expiration_buffer_days"

// SettingsService reads the tenant's key-value settings store.
type SettingsService interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// ExpirationBufferDays returns how many days before expiry a batch stops
	// being offered for normal allocation. Falls back to the default of 3.
	ExpirationBufferDays(ctx context.Context) int
}

type settingsService struct {
	pool *pgxpool.Pool
}

func NewSettingsService(pool *pgxpool.Pool) SettingsService {
	return &settingsService{pool: pool}
}

func (s *settingsService) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return value, true, nil
}

func (s *settingsService) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

func (s *settingsService) ExpirationBufferDays(ctx context.Context) int {
	value, ok, err := s.Get(ctx, expirationBufferKey)
	if err != nil || !ok {
		return defaultExpirationBufferDays
	}
	days, err := strconv.Atoi(value)
	if err != nil || days < 0 {
		return defaultExpirationBufferDays
	}
	return days
}
