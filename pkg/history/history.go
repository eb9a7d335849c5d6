// Package history persists mesh traffic to SQLite so operators can ask
// about recent activity long after a packet scrolled past.
package history

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tinyland-inc/meshclaw/pkg/logger"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
)

// PacketRecord is one observed mesh packet.
type PacketRecord struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`

	Network     string `gorm:"index;size:16"`
	SenderID    uint32
	RecipientID uint32
	SenderName  string `gorm:"size:64"`
	Text        string
	Class       string `gorm:"size:16"`
	Channel     uint32
	Hops        int
	RxSNR       float64
	RxRSSI      int
}

// SenderCount is an aggregation row for the propagation report.
type SenderCount struct {
	SenderID   uint32
	SenderName string
	Count      int64
}

// Store wraps the traffic database.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.AutoMigrate(&PacketRecord{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Observer returns a function suitable for the router's packet hook.
// Write failures are logged, never propagated into the routing path.
func (s *Store) Observer() func(*mesh.Packet) {
	return func(p *mesh.Packet) {
		hops, _ := p.Hops()
		rec := PacketRecord{
			CreatedAt:   time.Now(),
			Network:     string(p.Network),
			SenderID:    p.SenderID,
			RecipientID: p.RecipientID,
			SenderName:  p.SenderName,
			Text:        p.Text,
			Class:       p.Class.String(),
			Channel:     p.ChannelIndex,
			Hops:        hops,
			RxSNR:       p.RxSNR,
			RxRSSI:      p.RxRSSI,
		}
		if err := s.db.Create(&rec).Error; err != nil {
			logger.WarnCF("history", "Packet write failed", map[string]any{"error": err.Error()})
		}
	}
}

// Recent returns the newest n packets.
func (s *Store) Recent(n int) ([]PacketRecord, error) {
	var out []PacketRecord
	err := s.db.Order("created_at DESC").Limit(n).Find(&out).Error
	return out, err
}

// CountSince returns how many packets arrived per network since the cutoff.
func (s *Store) CountSince(since time.Time) (map[string]int64, error) {
	type row struct {
		Network string
		Count   int64
	}
	var rows []row
	err := s.db.Model(&PacketRecord{}).
		Select("network, count(*) as count").
		Where("created_at >= ?", since).
		Group("network").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Network] = r.Count
	}
	return counts, nil
}

// TopSenders returns the busiest senders since the cutoff.
func (s *Store) TopSenders(since time.Time, limit int) ([]SenderCount, error) {
	var out []SenderCount
	err := s.db.Model(&PacketRecord{}).
		Select("sender_id, sender_name, count(*) as count").
		Where("created_at >= ?", since).
		Group("sender_id, sender_name").
		Order("count DESC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

// AverageSignal returns the mean SNR and RSSI per network since the cutoff.
func (s *Store) AverageSignal(since time.Time, network string) (snr float64, rssi float64, err error) {
	type row struct {
		SNR  float64
		RSSI float64
	}
	var r row
	err = s.db.Model(&PacketRecord{}).
		Select("avg(rx_snr) as snr, avg(rx_rssi) as rssi").
		Where("created_at >= ? AND network = ? AND rx_rssi != 0", since, network).
		Scan(&r).Error
	return r.SNR, r.RSSI, err
}

// Prune deletes packets older than the retention window. A zero or
// negative retention keeps everything.
func (s *Store) Prune(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res := s.db.Where("created_at < ?", cutoff).Delete(&PacketRecord{})
	return res.RowsAffected, res.Error
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
