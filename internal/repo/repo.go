package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"decisionsupport/internal/db"
	"decisionsupport/internal/domain"
	"decisionsupport/internal/events"
)

var ErrNotFound = errors.New("not found")

// EntityStore persists typed entities. Load and Delete report ErrNotFound for unknown ids.
type EntityStore interface {
	LoadMultiple(ctx context.Context, entityType string) ([]domain.Entity, error)
	Load(ctx context.Context, entityType, id string) (domain.Entity, error)
	// Create builds an unsaved entity from field values.
	Create(entityType string, values map[string]any) (domain.Entity, error)
	// Save inserts the entity on first save, assigning its id, and records a new revision.
	Save(ctx context.Context, e domain.Entity) (domain.Entity, error)
	Delete(ctx context.Context, e domain.Entity) error
	// InTx runs fn against a store bound to a single transaction.
	InTx(ctx context.Context, fn func(EntityStore) error) error
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
	Events  events.Writer
	Now     func() time.Time

	tx *sql.Tx
}

var _ EntityStore = Repo{}

func New(conn *sql.DB, dialect db.Dialect) Repo {
	return Repo{
		DB:      conn,
		Dialect: dialect,
		Events:  events.Writer{Dialect: dialect},
		Now:     time.Now,
	}
}

const entityColumns = `id,entity_type,revision_id,label,revision_status,is_completed,json_string,created_at,updated_at`

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) q() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

func (r Repo) bind(query string) string {
	return db.Rebind(r.Dialect, query)
}

func (r Repo) InTx(ctx context.Context, fn func(EntityStore) error) error {
	return r.withTx(ctx, func(tr Repo) error { return fn(tr) })
}

func (r Repo) withTx(ctx context.Context, fn func(Repo) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	inner := r
	inner.tx = tx
	if err := fn(inner); err != nil {
		return err
	}
	return tx.Commit()
}

func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func scanEntity(scan func(dest ...any) error) (domain.Entity, error) {
	var (
		rec        domain.Record
		entityType string
		revisionID sql.NullInt64
	)
	if err := scan(&rec.ID, &entityType, &revisionID, &rec.Label, &rec.RevisionStatus, &rec.IsCompleted, &rec.JSONString, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if revisionID.Valid {
		rec.RevisionID = revisionID.Int64
	}
	e, err := domain.NewEntity(entityType)
	if err != nil {
		return nil, err
	}
	*e.Base() = rec
	return e, nil
}

func (r Repo) LoadMultiple(ctx context.Context, entityType string) ([]domain.Entity, error) {
	rows, err := r.q().QueryContext(ctx, r.bind(`SELECT `+entityColumns+` FROM entities WHERE entity_type=? ORDER BY id ASC`), entityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) Load(ctx context.Context, entityType, id string) (domain.Entity, error) {
	n, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	row := r.q().QueryRowContext(ctx, r.bind(`SELECT `+entityColumns+` FROM entities WHERE id=? AND entity_type=?`), n, entityType)
	e, err := scanEntity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Create maps label/name, isCompleted/is_completed and json_string onto a new entity.
// Unknown keys are ignored.
func (r Repo) Create(entityType string, values map[string]any) (domain.Entity, error) {
	e, err := domain.NewEntity(entityType)
	if err != nil {
		return nil, err
	}
	rec := e.Base()
	rec.RevisionStatus = domain.RevisionStatusPublished
	for _, key := range []string{"label", "name"} {
		if v, ok := values[key].(string); ok && strings.TrimSpace(v) != "" {
			rec.Label = normalizeLabel(v)
			break
		}
	}
	for _, key := range []string{"isCompleted", "is_completed"} {
		if v, ok := values[key]; ok {
			b, err := asBool(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			rec.IsCompleted = b
			break
		}
	}
	if v, ok := values["json_string"].(string); ok {
		rec.JSONString = v
	}
	return e, nil
}

func normalizeLabel(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

func asBool(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case int64:
		return t != 0, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return false, fmt.Errorf("invalid boolean %s", t)
		}
		return f != 0, nil
	case string:
		if t == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("invalid boolean %q", t)
		}
		return b, nil
	default:
		return false, fmt.Errorf("invalid boolean %v", v)
	}
}

func (r Repo) Save(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	if e == nil {
		return nil, errors.New("entity required")
	}
	rec := e.Base()
	prev := *rec
	err := r.withTx(ctx, func(tr Repo) error { return tr.save(ctx, e) })
	if err != nil {
		*rec = prev
		return nil, err
	}
	return e, nil
}

func (r Repo) save(ctx context.Context, e domain.Entity) error {
	q := r.q()
	rec := e.Base()
	now := r.now().UTC().Format(time.RFC3339)
	if rec.RevisionStatus == "" {
		rec.RevisionStatus = domain.RevisionStatusPublished
	}
	evtType := "entity.updated"
	if rec.ID == 0 {
		evtType = "entity.created"
		if rec.CreatedAt == "" {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		err := q.QueryRowContext(ctx, r.bind(`INSERT INTO entities(entity_type,label,revision_status,is_completed,json_string,created_at,updated_at) VALUES (?,?,?,?,?,?,?) RETURNING id`),
			e.EntityType(), rec.Label, rec.RevisionStatus, rec.IsCompleted, rec.JSONString, rec.CreatedAt, rec.UpdatedAt).Scan(&rec.ID)
		if err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
	} else {
		rec.UpdatedAt = now
		res, err := q.ExecContext(ctx, r.bind(`UPDATE entities SET label=?, revision_status=?, is_completed=?, json_string=?, updated_at=? WHERE id=? AND entity_type=?`),
			rec.Label, rec.RevisionStatus, rec.IsCompleted, rec.JSONString, rec.UpdatedAt, rec.ID, e.EntityType())
		if err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	var revisionID int64
	err := q.QueryRowContext(ctx, r.bind(`INSERT INTO entity_revisions(entity_id,entity_type,label,json_string,created_at) VALUES (?,?,?,?,?) RETURNING revision_id`),
		rec.ID, e.EntityType(), rec.Label, rec.JSONString, now).Scan(&revisionID)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	if _, err := q.ExecContext(ctx, r.bind(`UPDATE entities SET revision_id=? WHERE id=?`), revisionID, rec.ID); err != nil {
		return fmt.Errorf("set revision: %w", err)
	}
	rec.RevisionID = revisionID
	return r.Events.Append(ctx, q, evtType, e.EntityType(), strconv.FormatInt(rec.ID, 10), events.EventPayload{
		"revision_id": revisionID,
		"label":       rec.Label,
	})
}

func (r Repo) Delete(ctx context.Context, e domain.Entity) error {
	if e == nil || e.Base().ID == 0 {
		return ErrNotFound
	}
	id := e.Base().ID
	return r.withTx(ctx, func(tr Repo) error {
		q := tr.q()
		if _, err := q.ExecContext(ctx, tr.bind(`DELETE FROM entity_revisions WHERE entity_id=?`), id); err != nil {
			return fmt.Errorf("delete revisions: %w", err)
		}
		res, err := q.ExecContext(ctx, tr.bind(`DELETE FROM entities WHERE id=? AND entity_type=?`), id, e.EntityType())
		if err != nil {
			return fmt.Errorf("delete entity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return tr.Events.Append(ctx, q, "entity.deleted", e.EntityType(), strconv.FormatInt(id, 10), nil)
	})
}

// Revisions lists the revision ids recorded for an entity, oldest first.
func (r Repo) Revisions(ctx context.Context, entityID int64) ([]int64, error) {
	rows, err := r.q().QueryContext(ctx, r.bind(`SELECT revision_id FROM entity_revisions WHERE entity_id=? ORDER BY revision_id ASC`), entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
