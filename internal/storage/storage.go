// Package storage keeps room snapshots so an authority restart does not
// lose the table.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/cardtable-sync/internal/engine"
)

var ErrNotFound = errors.New("room not found")

// Room is one persisted room row.
type Room struct {
	Code      string         `gorm:"column:code;primaryKey;size:16"`
	State     datatypes.JSON `gorm:"column:state;type:jsonb;not null"`
	UpdatedAt time.Time      `gorm:"column:updated_at;index"`
}

func (Room) TableName() string { return "rooms" }

// Gorm stores rooms in a SQL database.
type Gorm struct {
	db *gorm.DB
}

// OpenPostgres connects with the pgx-backed postgres driver and migrates.
func OpenPostgres(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGorm(db)
}

func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&Room{}); err != nil {
		return nil, fmt.Errorf("migrate rooms: %w", err)
	}
	return &Gorm{db: db}, nil
}

// Save upserts the snapshot for code.
func (g *Gorm) Save(ctx context.Context, code string, p engine.Persisted) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", code, err)
	}
	row := Room{Code: code, State: datatypes.JSON(raw), UpdatedAt: time.Now()}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
	}).Create(&row).Error
}

func (g *Gorm) Load(ctx context.Context, code string) (engine.Persisted, error) {
	var row Room
	err := g.db.WithContext(ctx).First(&row, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Persisted{}, ErrNotFound
	}
	if err != nil {
		return engine.Persisted{}, err
	}
	return decode(code, row.State)
}

// List returns the codes of every stored room, most recent first.
func (g *Gorm) List(ctx context.Context) ([]string, error) {
	var codes []string
	err := g.db.WithContext(ctx).Model(&Room{}).Order("updated_at desc").Pluck("code", &codes).Error
	return codes, err
}

func (g *Gorm) Delete(ctx context.Context, code string) error {
	return g.db.WithContext(ctx).Delete(&Room{}, "code = ?", code).Error
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decode(code string, raw []byte) (engine.Persisted, error) {
	var p engine.Persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return engine.Persisted{}, fmt.Errorf("decode room %s: %w", code, err)
	}
	return p, nil
}

// Memory keeps snapshots in process. Used when no database is configured.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]memRoom
}

type memRoom struct {
	raw     []byte
	updated time.Time
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]memRoom)}
}

func (m *Memory) Save(_ context.Context, code string, p engine.Persisted) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", code, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[code] = memRoom{raw: raw, updated: time.Now()}
	return nil
}

func (m *Memory) Load(_ context.Context, code string) (engine.Persisted, error) {
	m.mu.Lock()
	r, ok := m.rooms[code]
	m.mu.Unlock()
	if !ok {
		return engine.Persisted{}, ErrNotFound
	}
	return decode(code, r.raw)
}

func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]string, 0, len(m.rooms))
	for code := range m.rooms {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		return m.rooms[codes[i]].updated.After(m.rooms[codes[j]].updated)
	})
	return codes, nil
}

func (m *Memory) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, code)
	return nil
}

func (m *Memory) Close() error { return nil }
