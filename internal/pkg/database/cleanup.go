package database

import (
	"context"
	"time"
)

// Cleanup removes samples and events older than retention.
func (db *Database) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	var removed int64
	for _, table := range []string{"efficiency_sample", "house_event"} {
		tag, err := db.pool.Exec(ctx, "DELETE FROM "+table+" WHERE time_stamp < $1", cutoff)
		if err != nil {
			return removed, err
		}
		removed += tag.RowsAffected()
	}
	return removed, nil
}
