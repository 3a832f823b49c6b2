package inbox

import (
	"context"

	"github.com/md-rashed-zaman/clinicbook/libs/db"
)

type Repository struct {
	db db.DB
}

func NewRepository(conn db.DB) *Repository {
	return &Repository{db: conn}
}

// Record claims eventID. It returns false when the event was already processed.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Forget releases a claim so a failed event can be processed again on redelivery.
func (r *Repository) Forget(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM inbox_events WHERE event_id = $1`, eventID)
	return err
}
