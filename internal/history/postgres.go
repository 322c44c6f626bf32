// Package history is the optional persistence collaborator: finished OCPP
// transactions land in Postgres when a store is configured, and nowhere
// when it is not. The simulator core never reads this data back; it exists
// for offline analysis.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/seu-repo/sigec-swarm/internal/csms"
)

// transactionRow is the persisted shape of one finished transaction.
type transactionRow struct {
	ID            uint   `gorm:"primaryKey"`
	StationID     string `gorm:"index"`
	ConnectorID   int
	TransactionID int `gorm:"uniqueIndex"`
	IDTag         string
	MeterStartWh  int
	MeterStopWh   int
	StartTime     time.Time
	StopTime      time.Time
	CreatedAt     time.Time
}

func (transactionRow) TableName() string { return "transactions" }

// PostgresStore implements csms.HistoryStore over GORM.
type PostgresStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewPostgresStore opens the database through lib/pq and hands the pooled
// connection to GORM, then ensures the schema exists.
func NewPostgresStore(url string, log *zap.Logger) (*PostgresStore, error) {
	sqlDB, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("history: connect gorm: %w", err)
	}
	if err := db.AutoMigrate(&transactionRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	log.Info("Transaction history store connected")
	return &PostgresStore{db: db, log: log}, nil
}

// RecordTransaction persists one finalized record. Re-recording the same
// transaction id updates the existing row rather than duplicating it.
func (s *PostgresStore) RecordTransaction(rec csms.TransactionRecord) error {
	row := transactionRow{
		StationID:     rec.StationID,
		ConnectorID:   rec.ConnectorID,
		TransactionID: rec.TransactionID,
		IDTag:         rec.IDTag,
		MeterStartWh:  rec.MeterStartWh,
		MeterStopWh:   rec.MeterStopWh,
		StartTime:     rec.StartTime,
		StopTime:      rec.StopTime,
	}
	err := s.db.
		Where(transactionRow{TransactionID: rec.TransactionID}).
		Assign(row).
		FirstOrCreate(&transactionRow{}).Error
	if err != nil {
		return fmt.Errorf("history: record transaction %d: %w", rec.TransactionID, err)
	}
	return nil
}

// CountByStation returns how many finished transactions each station has.
func (s *PostgresStore) CountByStation() (map[string]int64, error) {
	type countRow struct {
		StationID string
		N         int64
	}
	var rows []countRow
	err := s.db.Model(&transactionRow{}).
		Select("station_id, count(*) as n").
		Group("station_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("history: count by station: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.StationID] = r.N
	}
	return out, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
