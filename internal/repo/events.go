package repo

import (
	"context"
	"database/sql"
	"strings"

	"decisionsupport/internal/domain"
)

// LatestEvents returns up to n events, newest first, optionally filtered by entity.
func (r Repo) LatestEvents(ctx context.Context, n int, entityKind, entityID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 20
	}
	var (
		clauses []string
		args    []any
	)
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, n)
	rows, err := r.q().QueryContext(ctx, r.bind(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events `+where+` ORDER BY id DESC LIMIT ?`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			ev       domain.Event
			entityID sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.EntityKind, &entityID, &ev.ActorID, &ev.Payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			ev.EntityID = entityID.String
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}
