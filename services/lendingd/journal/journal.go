package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lendledger/core/events"
	"lendledger/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
)

// Entry is one persisted engine event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   uint64    `gorm:"uniqueIndex" json:"sequence"`
	Type       string    `gorm:"index" json:"type"`
	LoanID     string    `gorm:"index" json:"loanId,omitempty"`
	Caller     string    `gorm:"index" json:"caller,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Event decodes the stored attribute map.
func (e *Entry) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(e.Attributes) != "" {
		if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("journal: decode attributes: %w", err)
		}
	}
	return &types.Event{Type: e.Type, Attributes: attrs}, nil
}

// Query filters List results. Zero values match everything.
type Query struct {
	Type   string
	LoanID string
	Caller string
	After  uint64
	Limit  int
}

// Journal records engine events in a relational store so operators can query
// history after the in-memory feed backlog has rotated.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64
}

// Open connects to driver (sqlite or postgres) and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("journal: postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last struct{ Max uint64 }
	if err := db.Model(&Entry{}).Select("COALESCE(MAX(sequence), 0) AS max").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	return &Journal{db: db, logger: log, now: time.Now, seq: last.Max}, nil
}

// Record persists evt and returns the stored entry.
func (j *Journal) Record(ctx context.Context, evt *types.Event) (*Entry, error) {
	if evt == nil || strings.TrimSpace(evt.Type) == "" {
		return nil, errors.New("journal: event type required")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	entry := &Entry{
		ID:         uuid.New(),
		Sequence:   j.seq + 1,
		Type:       evt.Type,
		LoanID:     evt.Attributes["loanId"],
		Caller:     evt.Attributes["caller"],
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("journal: insert: %w", err)
	}
	j.seq = entry.Sequence
	return entry, nil
}

// Emit implements events.Emitter. Persistence failures are logged; the
// operation that produced the event has already committed.
func (j *Journal) Emit(evt events.Event) {
	payload, ok := evt.(events.Payload)
	if !ok {
		return
	}
	data := payload.Event()
	if data == nil {
		return
	}
	if _, err := j.Record(context.Background(), data); err != nil {
		j.logger.Error("journal record failed", "type", data.Type, "error", err)
	}
}

// List returns entries matching q in sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	tx := j.db.WithContext(ctx).Model(&Entry{}).Where("sequence > ?", q.After)
	if t := strings.TrimSpace(q.Type); t != "" {
		tx = tx.Where("type = ?", t)
	}
	if id := strings.TrimSpace(q.LoanID); id != "" {
		tx = tx.Where("loan_id = ?", id)
	}
	if caller := strings.TrimSpace(q.Caller); caller != "" {
		tx = tx.Where("caller = ?", caller)
	}
	var entries []Entry
	if err := tx.Order("sequence ASC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
