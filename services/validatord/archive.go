package validatord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"fraudproof/core/events"
	"fraudproof/native/validation"
)

// OutcomeRecord is an archived finalization. The dispute record itself is
// deleted on finalization; this row is the only lasting trace of it.
type OutcomeRecord struct {
	ID                uint      `gorm:"primaryKey" json:"-"`
	DisputeID         string    `gorm:"size:66;uniqueIndex" json:"disputeId"`
	AttestationID     string    `gorm:"size:66;index" json:"attestationId"`
	Outcome           string    `gorm:"size:16;index" json:"outcome"`
	Destination       string    `gorm:"size:42" json:"destination"`
	Validator         string    `gorm:"size:42;index" json:"validator"`
	WitnessAuthorizer string    `gorm:"size:42" json:"witnessAuthorizer"`
	Bond              string    `gorm:"size:80" json:"bond"`
	RecordedAt        time.Time `gorm:"index" json:"recordedAt"`
}

// TableName implements gorm's tabler.
func (OutcomeRecord) TableName() string { return "dispute_outcomes" }

// Archive stores finalization events in SQL. It is an events.Emitter so it
// can sit next to the metrics emitter in the engine's fanout.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenArchive connects to the archive database. driver is "sqlite" or
// "postgres".
func OpenArchive(driver, dsn string, logger *slog.Logger) (*Archive, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", driver, err)
	}
	return NewArchive(db, logger)
}

// NewArchive wraps an open gorm handle and migrates the schema.
func NewArchive(db *gorm.DB, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&OutcomeRecord{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Archive{db: db, logger: logger, now: time.Now}, nil
}

// Emit implements events.Emitter. Only outcome events are archived; write
// failures are logged since the finalization they describe has already been
// committed.
func (a *Archive) Emit(evt events.Event) {
	if a == nil || evt == nil || evt.Event() == nil {
		return
	}
	payload := evt.Event()
	switch payload.Type {
	case validation.EventTypeDisputeConfirmed, validation.EventTypeDisputeRejected:
	default:
		return
	}
	row := OutcomeRecord{
		DisputeID:         "0x" + payload.Attr("id"),
		AttestationID:     "0x" + payload.Attr("attestationId"),
		Outcome:           payload.Attr("outcome"),
		Destination:       payload.Attr("destination"),
		Validator:         payload.Attr("validator"),
		WitnessAuthorizer: payload.Attr("witnessAuthorizer"),
		Bond:              payload.Attr("bond"),
		RecordedAt:        a.now().UTC(),
	}
	err := a.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		a.logger.Error("archive: record outcome", slog.String("dispute", row.DisputeID), slog.Any("error", err))
	}
}

// List returns the most recent outcomes first. An empty outcome filter
// returns every outcome.
func (a *Archive) List(ctx context.Context, outcome string, limit int) ([]OutcomeRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := a.db.WithContext(ctx).Order("recorded_at DESC").Order("id DESC").Limit(limit)
	if outcome != "" {
		query = query.Where("outcome = ?", outcome)
	}
	var rows []OutcomeRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return rows, nil
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
