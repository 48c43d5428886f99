package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// nameCacheTTL bounds how long a cached display name can lag a profile edit.
const nameCacheTTL = 10 * time.Minute

// DirectoryRepository resolves display names from the identities table,
// with a Redis read-through cache in front of it. The cache client is
// optional; without one every lookup hits the database.
type DirectoryRepository struct {
	pool  *pgxpool.Pool
	cache *redis.Client
}

// NewDirectoryRepository creates a new DirectoryRepository
func NewDirectoryRepository(pool *pgxpool.Pool, cache *redis.Client) *DirectoryRepository {
	return &DirectoryRepository{pool: pool, cache: cache}
}

// DisplayName returns the display name for an identity
func (r *DirectoryRepository) DisplayName(ctx context.Context, id uuid.UUID) (string, error) {
	cacheKey := fmt.Sprintf("directory:name:%s", id)

	if r.cache != nil {
		if name, err := r.cache.Get(ctx, cacheKey).Result(); err == nil && name != "" {
			return name, nil
		}
	}

	query := `SELECT display_name FROM identities WHERE identity_id = $1`

	var name string
	err := r.pool.QueryRow(ctx, query, id).Scan(&name)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("identity not found")
		}
		return "", fmt.Errorf("failed to resolve display name: %w", err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, cacheKey, name, nameCacheTTL)
	}
	return name, nil
}
