package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"receipts/internal/logger"
)

// totalRecord is one row of receipt_totals.
type totalRecord struct {
	ID          uint  `gorm:"primaryKey"`
	AmountCents int64 `gorm:"not null"`
	CreatedAt   time.Time
}

func (totalRecord) TableName() string { return "receipt_totals" }

// Postgres stores totals in the receipt_totals table.
type Postgres struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewPostgres connects to dsn and migrates the receipt_totals table.
func NewPostgres(dsn string) (*Postgres, error) {
	const op = "NewPostgres"

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect: %w", op, err)
	}
	return newPostgres(db)
}

func newPostgres(db *gorm.DB) (*Postgres, error) {
	if err := db.AutoMigrate(&totalRecord{}); err != nil {
		return nil, fmt.Errorf("NewPostgres: failed to migrate receipt_totals: %w", err)
	}
	return &Postgres{db: db, log: logger.WithComponent("history-postgres")}, nil
}

// Append implements Sink.
func (p *Postgres) Append(ctx context.Context, total float64) error {
	rec := totalRecord{AmountCents: toCents(total)}
	if err := p.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("Postgres.Append: %w", err)
	}
	p.log.Debug().Uint("id", rec.ID).Int64("cents", rec.AmountCents).Msg("Recorded total")
	return nil
}

// List implements Reader.
func (p *Postgres) List(ctx context.Context) ([]float64, error) {
	var recs []totalRecord
	if err := p.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("Postgres.List: %w", err)
	}
	totals := make([]float64, len(recs))
	for i, r := range recs {
		totals[i] = fromCents(r.AmountCents)
	}
	return totals, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
