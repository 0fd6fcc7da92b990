package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"calorielog/internal/domain"
)

// SaveEntry inserts a history record. Ordering comes from the insert
// sequence, so the newest record lists first.
func (d *DB) SaveEntry(ctx context.Context, userID int64, entry domain.CalorieHistory) error {
	items := entry.Items
	if items == nil {
		items = []domain.FoodItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	_, err = d.sql.ExecContext(ctx,
		"INSERT INTO calorie_history(id, user_id, date, total_calories, items, image_uri) VALUES($1, $2, $3, $4, $5, $6);",
		entry.ID, userID, entry.Date, entry.TotalCalories, b, entry.ImageURI,
	)
	return err
}

// ListHistory returns the user's records, newest first.
func (d *DB) ListHistory(ctx context.Context, userID int64) ([]domain.CalorieHistory, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT id, date, total_calories, items, image_uri FROM calorie_history WHERE user_id=$1 ORDER BY seq DESC;", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.CalorieHistory{}
	for rows.Next() {
		var (
			e     domain.CalorieHistory
			items []byte
		)
		if err := rows.Scan(&e.ID, &e.Date, &e.TotalCalories, &items, &e.ImageURI); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &e.Items); err != nil {
			return nil, fmt.Errorf("decode items of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEntry removes a record by id, scoped to a user.
func (d *DB) DeleteEntry(ctx context.Context, userID int64, id string) error {
	_, err := d.sql.ExecContext(ctx, "DELETE FROM calorie_history WHERE id=$1 AND user_id=$2;", id, userID)
	return err
}

// ClearHistory removes all of a user's records.
func (d *DB) ClearHistory(ctx context.Context, userID int64) error {
	_, err := d.sql.ExecContext(ctx, "DELETE FROM calorie_history WHERE user_id=$1;", userID)
	return err
}
