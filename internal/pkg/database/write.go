package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/anicoll/house-power-simulator/internal/pkg/model"
	"github.com/anicoll/house-power-simulator/internal/pkg/publisher"
)

// Write stores every evaluation sample and every fuse or session event in the
// batch in one transaction.
func (db *Database) Write(ctx context.Context, batch publisher.Batch) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, ev := range batch.Events {
		if ev.Sample != nil {
			s := ev.Sample
			if _, err := tx.Exec(ctx, `
				INSERT INTO efficiency_sample (time_stamp, power, score, level, device_count)
				VALUES ($1, $2, $3, $4, $5)
			`, time.UnixMilli(s.Timestamp), s.Power, s.Score, s.Level.String(), s.DeviceCount); err != nil {
				return err
			}
		}
		if ev.Type == model.EventPowerUpdate {
			continue
		}
		payload, err := json.Marshal(ev.Payload())
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO house_event (time_stamp, type, payload)
			VALUES ($1, $2, $3)
		`, ev.At, ev.Type.String(), payload); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
