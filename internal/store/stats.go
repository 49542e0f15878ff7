package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rcliao/memvault/internal/model"
)

// Stats returns index-only statistics for a user's live entries.
func (s *LogStore) Stats(ctx context.Context, userID string) (*model.Stats, error) {
	st := &model.Stats{UserID: userID, ByCategory: map[model.Category]int{}}

	var first, last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(ts), MAX(ts) FROM entries WHERE user_id = ? AND deleted_at IS NULL`,
		userID).Scan(&st.Total, &first, &last)
	if err != nil {
		return nil, err
	}
	if first.Valid {
		t, _ := time.Parse(tsLayout, first.String)
		st.First = &t
	}
	if last.Valid {
		t, _ := time.Parse(tsLayout, last.String)
		st.Last = &t
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM entries
		WHERE user_id = ? AND deleted_at IS NULL
		GROUP BY category`, userID)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return st, err
		}
		c, err := model.ParseCategory(name)
		if err != nil {
			continue
		}
		st.ByCategory[c] = n
	}

	return st, rows.Err()
}
