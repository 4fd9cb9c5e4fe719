package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/tradeguard/events"
	"github.com/web3guy0/tradeguard/monitor"
	"github.com/web3guy0/tradeguard/restriction"
	"github.com/web3guy0/tradeguard/risk"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Event journal and crash-recovery state
// ═══════════════════════════════════════════════════════════════════════════════
//
//   events        append-only journal of everything published on the bus
//   account_state single row, written on every guard status change
//   suspensions   per-symbol snapshot of the restriction store
//   trackers      per-symbol snapshot of position monitor state
//
// postgres:// DSNs use PostgreSQL, anything else is a SQLite file.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

type EventRecord struct {
	ID        string          `gorm:"primaryKey"`
	Type      string          `gorm:"index"`
	Severity  string
	Symbol    string          `gorm:"index"`
	Strategy  string
	Direction string
	Ticket    int64
	Price     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Volume    decimal.Decimal `gorm:"type:decimal(20,8)"`
	Level     decimal.Decimal `gorm:"type:decimal(20,8)"`
	PnL       decimal.Decimal `gorm:"column:pnl;type:decimal(20,6)"`
	Status    string
	Reason    string
	Time      time.Time `gorm:"index"`
	CreatedAt time.Time
}

type AccountStateRecord struct {
	ID              uint            `gorm:"primaryKey"`
	StartingBalance decimal.Decimal `gorm:"type:decimal(20,6)"`
	PeakBalance     decimal.Decimal `gorm:"type:decimal(20,6)"`
	CurrentBalance  decimal.Decimal `gorm:"type:decimal(20,6)"`
	Status          string
	Reason          string
	ManualHold      bool
	LastReset       time.Time
	ChangedAt       time.Time
	UpdatedAt       time.Time
}

type SuspensionRow struct {
	Kind      string `gorm:"primaryKey"`
	Ticket    int64  `gorm:"primaryKey;autoIncrement:false"`
	Symbol    string `gorm:"index"`
	Payload   string
	UpdatedAt time.Time
}

type TrackerRow struct {
	Ticket    int64  `gorm:"primaryKey;autoIncrement:false"`
	Symbol    string `gorm:"index"`
	Payload   string
	UpdatedAt time.Time
}

const accountRowID = 1

func New(dsn string) (*Database, error) {
	var db *gorm.DB
	var err error

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info().Str("path", dsn).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&EventRecord{}, &AccountStateRecord{}, &SuspensionRow{}, &TrackerRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Database{db: db}, nil
}

// Close releases the connection pool
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ============ EVENT JOURNAL ============

func (d *Database) SaveEvent(e events.Event) error {
	rec := &EventRecord{
		ID:        e.ID,
		Type:      string(e.Type),
		Severity:  string(e.Severity),
		Symbol:    e.Symbol,
		Strategy:  e.Strategy,
		Direction: e.Direction,
		Ticket:    e.Ticket,
		Price:     e.Price,
		Volume:    e.Volume,
		Level:     e.Level,
		PnL:       e.PnL,
		Status:    e.Status,
		Reason:    e.Reason,
		Time:      e.Time,
	}
	return d.db.Create(rec).Error
}

func (d *Database) RecentEvents(limit int) ([]EventRecord, error) {
	var recs []EventRecord
	err := d.db.Order("time DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

func (d *Database) EventsByType(t events.Type, limit int) ([]EventRecord, error) {
	var recs []EventRecord
	err := d.db.Where("type = ?", string(t)).Order("time DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// RealizedPnL sums the P&L of every journaled target hit and exit since t
func (d *Database) RealizedPnL(since time.Time) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := d.db.Model(&EventRecord{}).
		Select("COALESCE(SUM(pnl), 0) as total").
		Where("type IN ? AND time >= ?", []string{string(events.TargetHit), string(events.ExitExecuted)}, since).
		Scan(&result).Error
	return result.Total, err
}

// Journal writes every event from sub until ctx is done
func (d *Database) Journal(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if err := d.SaveEvent(e); err != nil {
				log.Warn().Err(err).Str("type", string(e.Type)).Msg("Failed to journal event")
			}
		}
	}
}

// ============ ACCOUNT STATE ============

func (d *Database) SaveAccountState(s risk.AccountState) error {
	rec := &AccountStateRecord{
		ID:              accountRowID,
		StartingBalance: s.StartingBalance,
		PeakBalance:     s.PeakBalance,
		CurrentBalance:  s.CurrentBalance,
		Status:          string(s.Status),
		Reason:          s.Reason,
		ManualHold:      s.ManualHold,
		LastReset:       s.LastReset,
		ChangedAt:       s.ChangedAt,
	}
	return d.db.Save(rec).Error
}

// LoadAccountState returns nil when nothing was saved yet
func (d *Database) LoadAccountState() (*risk.AccountState, error) {
	var rec AccountStateRecord
	err := d.db.First(&rec, "id = ?", accountRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &risk.AccountState{
		StartingBalance: rec.StartingBalance,
		PeakBalance:     rec.PeakBalance,
		CurrentBalance:  rec.CurrentBalance,
		Status:          risk.AccountStatus(rec.Status),
		Reason:          rec.Reason,
		ManualHold:      rec.ManualHold,
		LastReset:       rec.LastReset,
		ChangedAt:       rec.ChangedAt,
	}, nil
}

// ============ SUSPENSIONS ============

// SaveSuspensions replaces the stored records of symbol
func (d *Database) SaveSuspensions(symbol string, recs []restriction.SuspensionRecord) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("symbol = ?", symbol).Delete(&SuspensionRow{}).Error; err != nil {
			return err
		}
		for _, r := range recs {
			payload, err := json.Marshal(r)
			if err != nil {
				return err
			}
			row := &SuspensionRow{Kind: string(r.Kind), Ticket: r.Ticket, Symbol: symbol, Payload: string(payload)}
			if err := tx.Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) LoadSuspensions(symbol string) ([]restriction.SuspensionRecord, error) {
	var rows []SuspensionRow
	if err := d.db.Where("symbol = ?", symbol).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]restriction.SuspensionRecord, 0, len(rows))
	for _, row := range rows {
		var r restriction.SuspensionRecord
		if err := json.Unmarshal([]byte(row.Payload), &r); err != nil {
			return nil, fmt.Errorf("suspension %s/%d: %w", row.Kind, row.Ticket, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ============ TRACKERS ============

// SaveTrackers replaces the stored trackers of symbol
func (d *Database) SaveTrackers(symbol string, trackers []monitor.Tracker) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("symbol = ?", symbol).Delete(&TrackerRow{}).Error; err != nil {
			return err
		}
		for _, t := range trackers {
			payload, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := tx.Create(&TrackerRow{Ticket: t.Ticket, Symbol: symbol, Payload: string(payload)}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Database) LoadTrackers(symbol string) ([]monitor.Tracker, error) {
	var rows []TrackerRow
	if err := d.db.Where("symbol = ?", symbol).Order("ticket").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]monitor.Tracker, 0, len(rows))
	for _, row := range rows {
		var t monitor.Tracker
		if err := json.Unmarshal([]byte(row.Payload), &t); err != nil {
			return nil, fmt.Errorf("tracker %d: %w", row.Ticket, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ restriction.Persister = (*Database)(nil)
	_ monitor.Persister     = (*Database)(nil)
)
