package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store manages catalog persistence backed by SQLite. It shares the
// database handle with the request store; both schemas live in one file so
// a job run touches a single database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS packages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    package_id TEXT NOT NULL UNIQUE,
    provider_id TEXT,
    session_owner TEXT,
    session TEXT,
    state TEXT NOT NULL,
    checksum TEXT,
    tags TEXT NOT NULL DEFAULT '[]',
    categories TEXT NOT NULL DEFAULT '[]',
    storages TEXT NOT NULL DEFAULT '[]',
    files TEXT NOT NULL DEFAULT '[]',
    last_update TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_packages_state ON packages(state);
CREATE INDEX IF NOT EXISTS idx_packages_provider ON packages(provider_id);
CREATE INDEX IF NOT EXISTS idx_packages_session ON packages(session_owner, session);
`

// NewStore binds a catalog store to an open database and ensures its schema.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("catalog store requires a database handle")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save inserts or replaces one package keyed by its business identifier.
func (s *Store) Save(ctx context.Context, pkg *Package) error {
	if pkg == nil {
		return errors.New("package is nil")
	}
	return s.save(ctx, s.db, pkg)
}

// SaveAll persists a batch of packages in a single transaction. Jobs use
// this once per run to bound store round trips.
func (s *Store) SaveAll(ctx context.Context, pkgs []*Package) error {
	if len(pkgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save batch: %w", err)
	}
	for _, pkg := range pkgs {
		if pkg == nil {
			continue
		}
		if err := s.save(ctx, tx, pkg); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save batch: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) save(ctx context.Context, db execer, pkg *Package) error {
	now := time.Now().UTC()
	pkg.LastUpdate = now
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	tags, err := marshalStrings(pkg.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	categories, err := marshalStrings(pkg.Categories)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}
	storages, err := marshalStrings(pkg.Storages)
	if err != nil {
		return fmt.Errorf("marshal storages: %w", err)
	}
	files, err := json.Marshal(pkg.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}

	res, err := db.ExecContext(
		ctx,
		`INSERT INTO packages (
            package_id, provider_id, session_owner, session, state, checksum,
            tags, categories, storages, files, last_update, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(package_id) DO UPDATE SET
            provider_id = excluded.provider_id,
            session_owner = excluded.session_owner,
            session = excluded.session,
            state = excluded.state,
            checksum = excluded.checksum,
            tags = excluded.tags,
            categories = excluded.categories,
            storages = excluded.storages,
            files = excluded.files,
            last_update = excluded.last_update`,
		pkg.PackageID,
		nullableString(pkg.ProviderID),
		nullableString(pkg.SessionOwner),
		nullableString(pkg.Session),
		pkg.State,
		nullableString(pkg.Checksum),
		string(tags),
		string(categories),
		string(storages),
		string(files),
		now.Format(time.RFC3339Nano),
		pkg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save package: %w", err)
	}
	if pkg.ID == 0 {
		if id, err := res.LastInsertId(); err == nil {
			pkg.ID = id
		}
	}
	return nil
}

// GetByID fetches a package by internal identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Package, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = ?`, id)
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}
	return pkg, nil
}

// GetByPackageID fetches a package by business identifier.
func (s *Store) GetByPackageID(ctx context.Context, packageID string) (*Package, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE package_id = ?`, packageID)
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get package by package_id: %w", err)
	}
	return pkg, nil
}

// Search returns one page of packages matching the filter, ordered by
// ascending internal id. Keyset pagination guarantees no package is skipped
// or revisited across pages even as matching rows change state.
func (s *Store) Search(ctx context.Context, filter Filter, page Page) ([]*Package, error) {
	if page.Size <= 0 {
		return nil, errors.New("page size must be positive")
	}
	where, args := buildFilterClauses(filter)
	where = append(where, "id > ?")
	args = append(args, page.After)

	query := `SELECT ` + packageColumns + ` FROM packages WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY id ASC LIMIT ?`
	args = append(args, page.Size)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, rows.Err()
}

// Remove deletes a package row by business identifier.
func (s *Store) Remove(ctx context.Context, packageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM packages WHERE package_id = ?`, packageID)
	if err != nil {
		return false, fmt.Errorf("delete package: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Count returns the number of catalogued packages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM packages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count packages: %w", err)
	}
	return count, nil
}

// Stats returns a count of packages grouped by state.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM packages GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
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

func buildFilterClauses(filter Filter) ([]string, []any) {
	where := make([]string, 0, 8)
	args := make([]any, 0, 16)

	if len(filter.PackageIDs) > 0 {
		op := "IN"
		if filter.Mode == SelectionExclude {
			op = "NOT IN"
		}
		where = append(where, `package_id `+op+` (`+makePlaceholders(len(filter.PackageIDs))+`)`)
		for _, id := range filter.PackageIDs {
			args = append(args, id)
		}
	}
	if len(filter.States) > 0 {
		where = append(where, `state IN (`+makePlaceholders(len(filter.States))+`)`)
		for _, state := range filter.States {
			args = append(args, state)
		}
	}
	if len(filter.ProviderIDs) > 0 {
		where = append(where, `provider_id IN (`+makePlaceholders(len(filter.ProviderIDs))+`)`)
		for _, id := range filter.ProviderIDs {
			args = append(args, id)
		}
	}
	if owner := strings.TrimSpace(filter.SessionOwner); owner != "" {
		where = append(where, `session_owner = ?`)
		args = append(args, owner)
	}
	if session := strings.TrimSpace(filter.Session); session != "" {
		where = append(where, `session = ?`)
		args = append(args, session)
	}
	setCriteria := []struct {
		column string
		values []string
	}{
		{"tags", filter.Tags},
		{"categories", filter.Categories},
		{"storages", filter.Storages},
	}
	for _, criterion := range setCriteria {
		column, values := criterion.column, criterion.values
		if len(values) == 0 {
			continue
		}
		where = append(where,
			`EXISTS (SELECT 1 FROM json_each(packages.`+column+`) WHERE json_each.value IN (`+makePlaceholders(len(values))+`))`)
		for _, value := range values {
			args = append(args, value)
		}
	}
	if !filter.LastFrom.IsZero() {
		where = append(where, `last_update >= ?`)
		args = append(args, filter.LastFrom.UTC().Format(time.RFC3339Nano))
	}
	if !filter.LastTo.IsZero() {
		where = append(where, `last_update <= ?`)
		args = append(args, filter.LastTo.UTC().Format(time.RFC3339Nano))
	}
	if len(where) == 0 {
		where = append(where, "1=1")
	}
	return where, args
}

const packageColumns = "id, package_id, provider_id, session_owner, session, state, checksum, tags, categories, storages, files, last_update, created_at"

func scanPackage(scanner interface{ Scan(dest ...any) error }) (*Package, error) {
	var (
		id           int64
		packageID    string
		providerID   sql.NullString
		sessionOwner sql.NullString
		session      sql.NullString
		stateStr     string
		checksum     sql.NullString
		tagsRaw      string
		categoryRaw  string
		storagesRaw  string
		filesRaw     string
		lastRaw      string
		createdRaw   string
	)

	if err := scanner.Scan(
		&id,
		&packageID,
		&providerID,
		&sessionOwner,
		&session,
		&stateStr,
		&checksum,
		&tagsRaw,
		&categoryRaw,
		&storagesRaw,
		&filesRaw,
		&lastRaw,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	pkg := &Package{
		ID:           id,
		PackageID:    packageID,
		ProviderID:   providerID.String,
		SessionOwner: sessionOwner.String,
		Session:      session.String,
		State:        State(stateStr),
		Checksum:     checksum.String,
	}
	if err := json.Unmarshal([]byte(tagsRaw), &pkg.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(categoryRaw), &pkg.Categories); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}
	if err := json.Unmarshal([]byte(storagesRaw), &pkg.Storages); err != nil {
		return nil, fmt.Errorf("unmarshal storages: %w", err)
	}
	if err := json.Unmarshal([]byte(filesRaw), &pkg.Files); err != nil {
		return nil, fmt.Errorf("unmarshal files: %w", err)
	}
	if last, err := time.Parse(time.RFC3339Nano, lastRaw); err == nil {
		pkg.LastUpdate = last
	}
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		pkg.CreatedAt = created
	}
	return pkg, nil
}

func marshalStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
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
