package repository

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/store/dialect"
)

// PublishRepository implements the PUBLISHQUEUE contracts of spec.md
// §4.4/§5: an at-least-once queue the republisher drains.
type PublishRepository interface {
	GetPublishQueueEntries(ctx context.Context, caID, publisherID int, limit int) ([]model.PublishQueueEntry, error)
	AddToPublishQueue(ctx context.Context, entry model.PublishQueueEntry) error
	RemoveFromPublishQueue(ctx context.Context, entry model.PublishQueueEntry) error
	ClearPublishQueue(ctx context.Context, caID, publisherID *int) error
}

type publishRepository struct {
	db      *sql.DB
	dialect dialect.Dialect
}

func (r *publishRepository) GetPublishQueueEntries(ctx context.Context, caID, publisherID int, limit int) ([]model.PublishQueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pid, ca_id, cid FROM publishqueue
		WHERE ca_id = $1 AND pid = $2
		ORDER BY cid ASC LIMIT $3
	`, caID, publisherID, limit)
	if err != nil {
		return nil, r.dialect.Translate("ca.GetPublishQueueEntries", err)
	}
	defer rows.Close()

	var out []model.PublishQueueEntry
	for rows.Next() {
		var e model.PublishQueueEntry
		if err := rows.Scan(&e.PublisherID, &e.CAID, &e.CertID); err != nil {
			return nil, r.dialect.Translate("ca.GetPublishQueueEntries", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *publishRepository) AddToPublishQueue(ctx context.Context, entry model.PublishQueueEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO publishqueue (pid, ca_id, cid) VALUES ($1, $2, $3)
		ON CONFLICT (pid, cid) DO NOTHING
	`, entry.PublisherID, entry.CAID, entry.CertID)
	if err != nil {
		return r.dialect.Translate("ca.AddToPublishQueue", err)
	}
	return nil
}

func (r *publishRepository) RemoveFromPublishQueue(ctx context.Context, entry model.PublishQueueEntry) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM publishqueue WHERE pid = $1 AND cid = $2
	`, entry.PublisherID, entry.CertID)
	if err != nil {
		return r.dialect.Translate("ca.RemoveFromPublishQueue", err)
	}
	return nil
}

func (r *publishRepository) ClearPublishQueue(ctx context.Context, caID, publisherID *int) error {
	query := `DELETE FROM publishqueue WHERE true`
	var args []any
	n := 1
	if caID != nil {
		query += fmtPlaceholder("ca_id", n)
		args = append(args, *caID)
		n++
	}
	if publisherID != nil {
		query += fmtPlaceholder("pid", n)
		args = append(args, *publisherID)
		n++
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return r.dialect.Translate("ca.ClearPublishQueue", err)
	}
	return nil
}

func fmtPlaceholder(column string, n int) string {
	return " AND " + column + " = $" + strconv.Itoa(n)
}
