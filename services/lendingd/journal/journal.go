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
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rwalend/core/events"
	"rwalend/core/types"
)

// ErrPathRequired is returned when no journal location is configured.
var ErrPathRequired = errors.New("journal path must be configured")

// Entry is one committed lending event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	Account    string    `gorm:"index"`
	Attributes string    `gorm:"not null"`
	RecordedAt time.Time `gorm:"index;not null"`
}

// TableName pins the table name independent of gorm's pluralisation.
func (Entry) TableName() string { return "lending_events" }

// Decode returns the entry as a canonical event.
func (e Entry) Decode() (*types.Event, error) {
	attrs := map[string]string{}
	if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return &types.Event{Type: e.Type, Attributes: attrs}, nil
}

// Journal appends committed engine events to a SQLite table so operators
// can audit history after the fact.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	next uint64
}

// Open creates or reopens the journal at path.
func Open(path string, log *slog.Logger) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrPathRequired
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	var last struct{ Max uint64 }
	if err := db.Model(&Entry{}).Select("COALESCE(MAX(sequence), 0) AS max").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("load journal head: %w", err)
	}
	return &Journal{db: db, logger: log, now: time.Now, next: last.Max + 1}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ events.Emitter = (*Journal)(nil)

// Emit implements events.Emitter. Write failures are logged; the engine has
// already committed by the time events are flushed.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok || payload.Event() == nil {
		return
	}
	if err := j.Append(context.Background(), payload.Event()); err != nil {
		j.logger.Error("journal append failed", "type", evt.EventType(), "error", err)
	}
}

// Append records evt with the next sequence number.
func (j *Journal) Append(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return fmt.Errorf("journal: nil event")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("journal: encode attributes: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	entry := Entry{
		ID:         uuid.New(),
		Sequence:   j.next,
		Type:       evt.Type,
		Account:    strings.ToLower(evt.Attributes["account"]),
		Attributes: string(attrs),
		RecordedAt: j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	j.next++
	return nil
}

// Query filters journal entries. Zero fields match everything.
type Query struct {
	Type    string
	Account string
	After   uint64
	Limit   int
}

const maxQueryLimit = 500

// List returns entries matching q in sequence order.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	tx := j.db.WithContext(ctx).Model(&Entry{}).Where("sequence > ?", q.After)
	if t := strings.TrimSpace(q.Type); t != "" {
		tx = tx.Where("type = ?", t)
	}
	if a := strings.TrimSpace(q.Account); a != "" {
		tx = tx.Where("account = ?", strings.ToLower(a))
	}
	var out []Entry
	if err := tx.Order("sequence ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	return out, nil
}
