package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
)

type StoredEvent struct {
	Id        int64           `json:"id"`
	TimeStamp time.Time       `json:"timestamp"`
	Type      model.EventType `json:"type"`
	Payload   []byte          `json:"payload"`
}

// GetSamples returns samples between from and to, oldest first. Without a range
// it covers the last two days.
func (db *Database) GetSamples(ctx context.Context, from, to *time.Time) ([]model.HistoryEntry, error) {
	if from == nil || to == nil {
		now := time.Now()
		start := now.AddDate(0, 0, -2)
		from, to = &start, &now
	}
	rows, err := db.pool.Query(ctx, `
	SELECT time_stamp, power, score, level, device_count
	FROM efficiency_sample
	WHERE time_stamp BETWEEN $1 AND $2
	ORDER BY time_stamp ASC, id ASC;
	`, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.HistoryEntry, error) {
		var (
			entry model.HistoryEntry
			ts    time.Time
			level string
		)
		if err := row.Scan(&ts, &entry.Power, &entry.Score, &level, &entry.DeviceCount); err != nil {
			return entry, err
		}
		entry.Timestamp = ts.UnixMilli()
		entry.Level = model.EfficiencyLevel(level)
		return entry, nil
	})
}

// GetEvents returns the most recent events of the given type, newest first.
func (db *Database) GetEvents(ctx context.Context, eventType model.EventType, limit int) ([]StoredEvent, error) {
	rows, err := db.pool.Query(ctx, `
	SELECT id, time_stamp, type, payload
	FROM house_event
	WHERE type = $1
	ORDER BY time_stamp DESC, id DESC
	LIMIT $2;
	`, eventType.String(), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StoredEvent, error) {
		var ev StoredEvent
		var typ string
		err := row.Scan(&ev.Id, &ev.TimeStamp, &typ, &ev.Payload)
		ev.Type = model.EventType(typ)
		return ev, err
	})
}
