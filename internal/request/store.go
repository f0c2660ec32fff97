package request

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store manages request persistence backed by SQLite. Requests are owned
// exclusively by the lifecycle engine: created once, transitioned, and
// deleted when their terminal effect is durable.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS requests (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    state TEXT NOT NULL,
    step TEXT NOT NULL,
    target_package_id TEXT,
    payload TEXT NOT NULL DEFAULT '{}',
    errors TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state);
CREATE INDEX IF NOT EXISTS idx_requests_kind_state ON requests(kind, state);
CREATE INDEX IF NOT EXISTS idx_requests_target ON requests(target_package_id);
`

// NewStore binds a request store to an open database and ensures its schema.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("request store requires a database handle")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply request schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts or replaces one request.
func (s *Store) Save(ctx context.Context, req *Request) error {
	if req == nil {
		return errors.New("request is nil")
	}
	return s.save(ctx, s.db, req)
}

// SaveAll persists a batch of requests in a single transaction.
func (s *Store) SaveAll(ctx context.Context, reqs []*Request) error {
	if len(reqs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin request batch: %w", err)
	}
	for _, req := range reqs {
		if req == nil {
			continue
		}
		if err := s.save(ctx, tx, req); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit request batch: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) save(ctx context.Context, db execer, req *Request) error {
	req.UpdatedAt = time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = req.UpdatedAt
	}
	if req.Step == "" {
		req.Step = StepLocal
	}
	payload, err := encodePayload(req)
	if err != nil {
		return err
	}
	errorsJSON, err := json.Marshal(emptySlice(req.Errors))
	if err != nil {
		return fmt.Errorf("marshal request errors: %w", err)
	}

	_, err = db.ExecContext(
		ctx,
		`INSERT INTO requests (
            id, kind, state, step, target_package_id, payload, errors, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            state = excluded.state,
            step = excluded.step,
            payload = excluded.payload,
            errors = excluded.errors,
            updated_at = excluded.updated_at`,
		req.ID,
		req.Kind,
		req.State,
		req.Step,
		nullableString(req.TargetPackageID),
		string(payload),
		string(errorsJSON),
		req.CreatedAt.Format(time.RFC3339Nano),
		req.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	return nil
}

// Get fetches a request by identifier.
func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// FindByIDs loads the given requests, skipping unknown identifiers.
func (s *Store) FindByIDs(ctx context.Context, ids []string) ([]*Request, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id IN (` + makePlaceholders(len(ids)) + `) ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find requests by ids: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// Filter describes request search criteria; empty fields are ignored.
type Filter struct {
	States          []State
	Kinds           []Kind
	Steps           []Step
	TargetPackageID string
	CreatedFrom     time.Time
	CreatedTo       time.Time
}

// FindByFilter returns up to limit matching requests ordered by creation
// date. It always re-issues the first page: callers that mutate matches out
// of the filtered set (retry, deletion) simply call again until no rows
// return, which never skips a row the way cursor advancement would.
func (s *Store) FindByFilter(ctx context.Context, filter Filter, limit int) ([]*Request, error) {
	if limit <= 0 {
		return nil, errors.New("filter limit must be positive")
	}
	where, args := buildRequestClauses(filter)
	query := `SELECT ` + requestColumns + ` FROM requests WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// HasActiveFor reports whether any request in an active state already
// targets the given package. This is the creation-time concurrency guard:
// best effort, not a transactional lock.
func (s *Store) HasActiveFor(ctx context.Context, packageID string) (bool, error) {
	return s.hasActive(ctx, packageID, "", ActiveStates)
}

// HasBlockingFor reports whether a request other than excludeID is queued
// or running against the package. Used when deciding whether a pending
// request can be promoted.
func (s *Store) HasBlockingFor(ctx context.Context, packageID, excludeID string) (bool, error) {
	return s.hasActive(ctx, packageID, excludeID, []State{StateToSchedule, StateRunning})
}

func (s *Store) hasActive(ctx context.Context, packageID, excludeID string, states []State) (bool, error) {
	args := make([]any, 0, len(states)+2)
	args = append(args, packageID)
	query := `SELECT COUNT(1) FROM requests WHERE target_package_id = ? AND state IN (` + makePlaceholders(len(states)) + `)`
	for _, state := range states {
		args = append(args, state)
	}
	if excludeID != "" {
		query += ` AND id != ?`
		args = append(args, excludeID)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check active requests: %w", err)
	}
	return count > 0, nil
}

// UpdateStateAll transitions a batch of requests to the given state.
func (s *Store) UpdateStateAll(ctx context.Context, ids []string, state State) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, state, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE requests SET state = ?, updated_at = ? WHERE id IN (`+makePlaceholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("update request states: %w", err)
	}
	return res.RowsAffected()
}

// Delete removes one request.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteAll removes a batch of requests by identifier.
func (s *Store) DeleteAll(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id IN (`+makePlaceholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete requests: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of requests grouped by state.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM requests GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("request stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

func buildRequestClauses(filter Filter) ([]string, []any) {
	where := make([]string, 0, 6)
	args := make([]any, 0, 12)

	if len(filter.States) > 0 {
		where = append(where, `state IN (`+makePlaceholders(len(filter.States))+`)`)
		for _, state := range filter.States {
			args = append(args, state)
		}
	}
	if len(filter.Kinds) > 0 {
		where = append(where, `kind IN (`+makePlaceholders(len(filter.Kinds))+`)`)
		for _, kind := range filter.Kinds {
			args = append(args, kind)
		}
	}
	if len(filter.Steps) > 0 {
		where = append(where, `step IN (`+makePlaceholders(len(filter.Steps))+`)`)
		for _, step := range filter.Steps {
			args = append(args, step)
		}
	}
	if target := strings.TrimSpace(filter.TargetPackageID); target != "" {
		where = append(where, `target_package_id = ?`)
		args = append(args, target)
	}
	if !filter.CreatedFrom.IsZero() {
		where = append(where, `created_at >= ?`)
		args = append(args, filter.CreatedFrom.UTC().Format(time.RFC3339Nano))
	}
	if !filter.CreatedTo.IsZero() {
		where = append(where, `created_at <= ?`)
		args = append(args, filter.CreatedTo.UTC().Format(time.RFC3339Nano))
	}
	if len(where) == 0 {
		where = append(where, "1=1")
	}
	return where, args
}

const requestColumns = "id, kind, state, step, target_package_id, payload, errors, created_at, updated_at"

func collectRequests(rows *sql.Rows) ([]*Request, error) {
	var reqs []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func scanRequest(scanner interface{ Scan(dest ...any) error }) (*Request, error) {
	var (
		id         string
		kindStr    string
		stateStr   string
		stepStr    string
		target     sql.NullString
		payloadRaw string
		errorsRaw  string
		createdRaw string
		updatedRaw string
	)

	if err := scanner.Scan(
		&id,
		&kindStr,
		&stateStr,
		&stepStr,
		&target,
		&payloadRaw,
		&errorsRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	req := &Request{
		ID:              id,
		Kind:            Kind(kindStr),
		State:           State(stateStr),
		Step:            Step(stepStr),
		TargetPackageID: target.String,
	}
	if err := json.Unmarshal([]byte(errorsRaw), &req.Errors); err != nil {
		return nil, fmt.Errorf("unmarshal request errors: %w", err)
	}
	if err := decodePayload(req, []byte(payloadRaw)); err != nil {
		return nil, err
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		req.CreatedAt = created
	}
	if updated, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		req.UpdatedAt = updated
	}
	return req, nil
}

func encodePayload(req *Request) ([]byte, error) {
	var payload any
	switch req.Kind {
	case KindUpdate:
		payload = req.Update
	case KindDeletion:
		payload = req.Deletion
	case KindDissemination:
		payload = req.Dissemination
	case KindUpdateCreator:
		payload = req.UpdateCreator
	case KindDeletionCreator:
		payload = req.DeletionCreator
	case KindDisseminationCreator:
		payload = req.DisseminationCreator
	default:
		return nil, fmt.Errorf("unknown request kind %q", req.Kind)
	}
	if payload == nil || isNilPointer(payload) {
		return nil, fmt.Errorf("request %s has no payload for kind %q", req.ID, req.Kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request payload: %w", err)
	}
	return data, nil
}

func decodePayload(req *Request, raw []byte) error {
	var target any
	switch req.Kind {
	case KindUpdate:
		req.Update = &UpdateTask{}
		target = req.Update
	case KindDeletion:
		req.Deletion = &DeletionPayload{}
		target = req.Deletion
	case KindDissemination:
		req.Dissemination = &DisseminationPayload{}
		target = req.Dissemination
	case KindUpdateCreator:
		req.UpdateCreator = &UpdateCreatorPayload{}
		target = req.UpdateCreator
	case KindDeletionCreator:
		req.DeletionCreator = &DeletionCreatorPayload{}
		target = req.DeletionCreator
	case KindDisseminationCreator:
		req.DisseminationCreator = &DisseminationCreatorPayload{}
		target = req.DisseminationCreator
	default:
		return fmt.Errorf("unknown request kind %q", req.Kind)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal request payload: %w", err)
	}
	return nil
}

func isNilPointer(value any) bool {
	switch v := value.(type) {
	case *UpdateTask:
		return v == nil
	case *DeletionPayload:
		return v == nil
	case *DisseminationPayload:
		return v == nil
	case *UpdateCreatorPayload:
		return v == nil
	case *DeletionCreatorPayload:
		return v == nil
	case *DisseminationCreatorPayload:
		return v == nil
	default:
		return false
	}
}

func emptySlice(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
