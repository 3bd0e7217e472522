package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/Mobeen-Dev/indexer-seo/internal/domain"
)

// AuthRepo loads shop credential rows from PostgreSQL using a minimal pgx pool.
type AuthRepo struct{ Pool PgxPool }

// NewAuthRepo constructs an AuthRepo with the given pool.
func NewAuthRepo(p PgxPool) *AuthRepo { return &AuthRepo{Pool: p} }

// Get loads the credential row for a shop. Provider credentials come back
// still encrypted; settings JSONB is decoded into ShopSettings.
func (r *AuthRepo) Get(ctx domain.Context, shop string) (domain.Auth, error) {
	tracer := otel.Tracer("repo.auth")
	ctx, span := tracer.Start(ctx, "auth.Get")
	defer span.End()
	q := `SELECT id, shop, COALESCE("googleConfig",''), COALESCE("bingApiKey",''), settings, "createdAt", "updatedAt" FROM "Auth" WHERE shop=$1`
	row := r.Pool.QueryRow(ctx, q, shop)
	var a domain.Auth
	var settings []byte
	if err := row.Scan(&a.ID, &a.Shop, &a.GoogleConfig, &a.BingAPIKey, &settings, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auth{}, fmt.Errorf("op=auth.get: %w", domain.ErrNotFound)
		}
		return domain.Auth{}, fmt.Errorf("op=auth.get: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &a.Settings); err != nil {
			return domain.Auth{}, fmt.Errorf("op=auth.get: settings: %w", err)
		}
	}
	return a, nil
}

// ListShops returns every tenant shop domain known to the system.
func (r *AuthRepo) ListShops(ctx domain.Context) ([]string, error) {
	tracer := otel.Tracer("repo.auth")
	ctx, span := tracer.Start(ctx, "auth.ListShops")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT shop FROM "Auth" ORDER BY shop`)
	if err != nil {
		return nil, fmt.Errorf("op=auth.list_shops: %w", err)
	}
	defer rows.Close()
	var shops []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("op=auth.list_shops: scan: %w", err)
		}
		shops = append(shops, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=auth.list_shops: rows: %w", err)
	}
	return shops, nil
}
