package db

import (
	"context"

	"github.com/google/uuid"
)

const listActiveTariffsSQL = `
SELECT id, name, description, credits_count, price_fiat_cents, price_native_stars,
       is_active, sort_order
FROM tariffs WHERE is_active = true ORDER BY sort_order ASC
`

// ListActiveTariffs returns the visible tariff catalog, in display order.
func (q *Queries) ListActiveTariffs(ctx context.Context) ([]Tariff, error) {
	rows, err := q.db.Query(ctx, listActiveTariffsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tariff
	for rows.Next() {
		t, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const getTariffSQL = `
SELECT id, name, description, credits_count, price_fiat_cents, price_native_stars,
       is_active, sort_order
FROM tariffs WHERE id = $1
`

// GetTariff fetches a tariff by id, active or not.
func (q *Queries) GetTariff(ctx context.Context, id uuid.UUID) (Tariff, error) {
	return scanTariff(q.db.QueryRow(ctx, getTariffSQL, id))
}

func scanTariff(row scannable) (Tariff, error) {
	var t Tariff
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.CreditsCount, &t.PriceFiatCents,
		&t.PriceNativeStars, &t.IsActive, &t.SortOrder)
	if err != nil {
		return Tariff{}, err
	}
	return t, nil
}
