// Package journal records every finished call in a SQL table through GORM.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lookout/internal"
	"lookout/pkg/events"
	"lookout/pkg/server"
	"lookout/pkg/slogging"
)

// Config mirrors the journal section of the application configuration.
type Config struct {
	Driver      string
	DSN         string
	Table       string
	AutoMigrate bool
}

// Record is one journaled call.
type Record struct {
	ID        string
	Type      string
	URL       string
	Head      string
	Peer      string
	Duration  time.Duration
	OK        bool
	Code      string
	Details   string
	CreatedAt time.Time
}

// Store implements the journal on top of GORM.
type Store struct {
	db     *gorm.DB
	table  string
	logger *zap.SugaredLogger
	now    func() time.Time
}

type row struct {
	ID         string    `gorm:"column:id;size:36;primaryKey"`
	Type       string    `gorm:"column:type;size:32;not null"`
	URL        string    `gorm:"column:url;size:512"`
	Head       string    `gorm:"column:head;size:64"`
	Peer       string    `gorm:"column:peer;size:128"`
	DurationMS int64     `gorm:"column:duration_ms"`
	OK         bool      `gorm:"column:ok;not null"`
	Code       string    `gorm:"column:code;size:32"`
	Details    string    `gorm:"column:details;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

// Open creates a GORM-backed journal.
func Open(cfg Config, log *zap.SugaredLogger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("journal dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
	}

	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	table := cfg.Table
	if table == "" {
		table = "lookout_calls"
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	store := &Store{
		db:     gormDB,
		table:  table,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Listener returns the hooks to register with the event listener.
func (s *Store) Listener() server.Listener {
	return server.Listener{OnCallFinish: s.onCallFinish}
}

func (s *Store) onCallFinish(ctx context.Context, evt events.Event, info server.CallInfo) {
	record := recordFromCall(evt, info)
	// The call context may already be cancelled by a forceful stop.
	if err := s.Append(context.WithoutCancel(ctx), record); err != nil {
		internal.IncJournalError(record.Type)
		slogging.Logger(ctx, s.logger).Errorw("journal append failed", "error", err)
	}
}

func recordFromCall(evt events.Event, info server.CallInfo) Record {
	record := Record{
		Type:     info.Type,
		Peer:     stringField(info.Fields, "peer"),
		Duration: info.Duration,
		OK:       !info.Failed,
		Code:     info.Code.String(),
		Details:  info.Details,
	}
	switch e := evt.(type) {
	case *events.ReviewEvent:
		record.URL = e.CommitRevision.Head.InternalRepositoryURL
		record.Head = e.CommitRevision.Head.Hash
	case *events.PushEvent:
		record.URL = e.CommitRevision.Head.InternalRepositoryURL
		record.Head = e.CommitRevision.Head.Hash
	}
	return record
}

func stringField(fields slogging.Fields, key string) string {
	value, _ := fields[key].(string)
	return value
}

// Append inserts record, assigning an id and creation time when unset.
func (s *Store) Append(ctx context.Context, record Record) error {
	if s == nil || s.db == nil {
		return errors.New("journal is not initialized")
	}
	if record.Type == "" {
		return errors.New("record type is required")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	data := toRow(record)
	return s.tableDB().WithContext(ctx).Create(&data).Error
}

// Filter selects journal records. Zero fields match everything.
type Filter struct {
	Type       string
	URL        string
	FailedOnly bool
	Limit      int
}

// Recent lists the latest records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	return s.List(ctx, Filter{Limit: limit})
}

// List returns the records matching filter, newest first. The limit
// defaults to 50.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("journal is not initialized")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := s.tableDB().WithContext(ctx)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.URL != "" {
		query = query.Where("url = ?", filter.URL)
	}
	if filter.FailedOnly {
		query = query.Where("ok = ?", false)
	}
	var data []row
	err := query.
		Order("created_at desc").
		Limit(limit).
		Find(&data).Error
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(data))
	for _, item := range data {
		records = append(records, fromRow(item))
	}
	return records, nil
}

func (s *Store) migrate() error {
	return s.tableDB().AutoMigrate(&row{})
}

func (s *Store) tableDB() *gorm.DB {
	return s.db.Table(s.table)
}

func toRow(record Record) row {
	return row{
		ID:         record.ID,
		Type:       record.Type,
		URL:        record.URL,
		Head:       record.Head,
		Peer:       record.Peer,
		DurationMS: record.Duration.Milliseconds(),
		OK:         record.OK,
		Code:       record.Code,
		Details:    record.Details,
		CreatedAt:  record.CreatedAt,
	}
}

func fromRow(data row) Record {
	return Record{
		ID:        data.ID,
		Type:      data.Type,
		URL:       data.URL,
		Head:      data.Head,
		Peer:      data.Peer,
		Duration:  time.Duration(data.DurationMS) * time.Millisecond,
		OK:        data.OK,
		Code:      data.Code,
		Details:   data.Details,
		CreatedAt: data.CreatedAt,
	}
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", driver)
	}
}
