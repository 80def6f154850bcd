// Package inventory is the relay's inventory collaborator: durable storage
// for tracked produce items, snapshot synthesis for late-joining subscribers,
// and a StateEvent emitted through the hub on every mutation.
package inventory

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/suscart-data/freshrelay/internal/relay"
	"github.com/suscart-data/freshrelay/internal/security"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound reports a lookup for an item that does not exist.
var ErrNotFound = errors.New("inventory: item not found")

// Item is one tracked produce record.
type Item struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Quantity       int64     `json:"quantity"`
	FreshnessScore float64   `json:"freshness_score"`
	BlemishCount   int64     `json:"blemish_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Publisher receives a StateEvent for every inventory mutation. The hub's
// event publisher satisfies this.
type Publisher interface {
	PublishEvent(kind relay.EventKind, subjectID int64, payload json.RawMessage) uint64
}

// Store is the sqlite-backed inventory. Mutations and their event emission
// are serialized under one lock so the event stream's per-subject order
// matches commit order.
type Store struct {
	db *sql.DB

	mu  sync.Mutex
	pub Publisher
}

// Open opens (creating if necessary) the inventory database at path and runs
// any pending schema migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open inventory db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	drv, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for debug tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetPublisher installs the event publisher. Mutations before this point do
// not broadcast; wire it before serving traffic.
func (s *Store) SetPublisher(p Publisher) {
	s.mu.Lock()
	s.pub = p
	s.mu.Unlock()
}

func (s *Store) emit(kind relay.EventKind, subjectID int64, payload interface{}) {
	if s.pub == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Item payloads are plain structs; a marshal failure is a bug.
		panic(fmt.Sprintf("inventory: marshal event payload: %v", err))
	}
	s.pub.PublishEvent(kind, subjectID, data)
}

// CreateItem inserts a new item and emits item_added.
func (s *Store) CreateItem(name string, quantity int64, freshness float64) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO items (name, quantity, freshness_score, blemish_count, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		name, quantity, freshness, now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert item id: %w", err)
	}

	item := &Item{
		ID:             id,
		Name:           name,
		Quantity:       quantity,
		FreshnessScore: freshness,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.emit(relay.EventItemAdded, id, item)
	return item, nil
}

// GetItem fetches one item by ID.
func (s *Store) GetItem(id int64) (*Item, error) {
	return s.scanItem(s.db.QueryRow(
		`SELECT id, name, quantity, freshness_score, blemish_count, created_at, updated_at
		 FROM items WHERE id = ?`, id))
}

// ListItems returns every tracked item ordered by ID.
func (s *Store) ListItems() ([]Item, error) {
	rows, err := s.db.Query(
		`SELECT id, name, quantity, freshness_score, blemish_count, created_at, updated_at
		 FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := s.scanItemRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItem replaces an item's name and emits item_updated.
func (s *Store) UpdateItem(id int64, name string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE items SET name = ?, updated_at = ? WHERE id = ?`, name, now.Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}

	item, err := s.GetItem(id)
	if err != nil {
		return nil, err
	}
	s.emit(relay.EventItemUpdated, id, item)
	return item, nil
}

// AdjustQuantity applies a signed delta to an item's quantity and emits
// quantity_changed with the resulting state.
func (s *Store) AdjustQuantity(id int64, delta int64) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE items SET quantity = MAX(quantity + ?, 0), updated_at = ? WHERE id = ?`,
		delta, now.Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("adjust quantity: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}

	item, err := s.GetItem(id)
	if err != nil {
		return nil, err
	}
	s.emit(relay.EventQuantityChanged, id, item)
	return item, nil
}

// UpdateFreshness records a new freshness grade and emits freshness_updated.
func (s *Store) UpdateFreshness(id int64, score float64, blemishCount int64) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE items SET freshness_score = ?, blemish_count = ?, updated_at = ? WHERE id = ?`,
		score, blemishCount, now.Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("update freshness: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}

	item, err := s.GetItem(id)
	if err != nil {
		return nil, err
	}
	s.emit(relay.EventFreshnessUpdated, id, item)
	return item, nil
}

// DeleteItem removes an item and emits item_deleted.
func (s *Store) DeleteItem(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	s.emit(relay.EventItemDeleted, id, map[string]int64{"id": id})
	return nil
}

// Backup writes a consistent copy of the database into dir and returns its
// path. The destination is validated to stay inside dir before sqlite writes
// to it.
func (s *Store) Backup(dir string) (string, error) {
	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	path := filepath.Join(dir, security.SanitizeFilename(name))
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		return "", fmt.Errorf("backup path: %w", err)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("backup database: %w", err)
	}
	return path, nil
}

// Snapshot returns the current state of every tracked item in ID order, for
// seeding late-joining subscribers.
func (s *Store) Snapshot() ([]relay.SnapshotItem, error) {
	items, err := s.ListItems()
	if err != nil {
		return nil, err
	}
	out := make([]relay.SnapshotItem, 0, len(items))
	for i := range items {
		data, err := json.Marshal(&items[i])
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot item %d: %w", items[i].ID, err)
		}
		out = append(out, relay.SnapshotItem{SubjectID: items[i].ID, Payload: data})
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanItem(row *sql.Row) (*Item, error) {
	return scanItemFrom(row)
}

func (s *Store) scanItemRows(rows *sql.Rows) (*Item, error) {
	return scanItemFrom(rows)
}

func scanItemFrom(r rowScanner) (*Item, error) {
	var item Item
	var createdAt, updatedAt int64
	err := r.Scan(&item.ID, &item.Name, &item.Quantity, &item.FreshnessScore,
		&item.BlemishCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	item.CreatedAt = time.Unix(createdAt, 0).UTC()
	item.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &item, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
