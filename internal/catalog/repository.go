package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Repository reads catalog data from PostgreSQL.
type Repository struct {
	pool     *pgxpool.Pool
	collator *collate.Collator
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:     pool,
		collator: collate.New(language.English, collate.IgnoreCase),
	}
}

// SearchItems lists active items matching the filter, ordered by description
// using locale-aware collation so mixed-case catalogs sort predictably.
func (r *Repository) SearchItems(ctx context.Context, filter Filter) ([]Item, error) {
	var (
		conds []string
		args  []any
	)
	conds = append(conds, "active")
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, fmt.Sprintf("(code ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if filter.BrandCode != "" {
		args = append(args, filter.BrandCode)
		conds = append(conds, fmt.Sprintf("brand_code = $%d", len(args)))
	}
	if filter.RangeCode != "" {
		args = append(args, filter.RangeCode)
		conds = append(conds, fmt.Sprintf("range_code = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`
		SELECT id, code, description, uom, unit_price, brand_code, range_code, active
		FROM items
		WHERE %s
		ORDER BY code
		LIMIT $%d OFFSET $%d`, strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: search items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Code, &it.Description, &it.UOM, &it.UnitPrice, &it.BrandCode, &it.RangeCode, &it.Active); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if c := r.collator.CompareString(items[i].Description, items[j].Description); c != 0 {
			return c < 0
		}
		return items[i].Code < items[j].Code
	})
	return items, nil
}

// GetItem fetches one item by (code, uom).
func (r *Repository) GetItem(ctx context.Context, code, uom string) (Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, description, uom, unit_price, brand_code, range_code, active
		FROM items WHERE code = $1 AND uom = $2`, code, uom).
		Scan(&it.ID, &it.Code, &it.Description, &it.UOM, &it.UnitPrice, &it.BrandCode, &it.RangeCode, &it.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return it, nil
}

// GetSite resolves a site code.
func (r *Repository) GetSite(ctx context.Context, code string) (Site, error) {
	var s Site
	err := r.pool.QueryRow(ctx, `SELECT code, name FROM sites WHERE code = $1`, code).Scan(&s.Code, &s.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Site{}, ErrSiteNotFound
		}
		return Site{}, err
	}
	return s, nil
}
