package db

import (
	"database/sql"
	"fmt"

	"github.com/bohemiyan/orgmembership/internal/config"
	_ "github.com/lib/pq"
	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PostgresDB wraps both sql.DB and gorm.DB
type PostgresDB struct {
	DB     *sql.DB
	GormDB *gorm.DB
}

func NewPostgresDB(cfg *config.Config) (*PostgresDB, error) {
	dsn := cfg.PostgresDSN()

	// Health connection through lib/pq
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	// TranslateError turns unique violations into gorm.ErrDuplicatedKey.
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error),
		TranslateError: true,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	return &PostgresDB{
		DB:     db,
		GormDB: gormDB,
	}, nil
}

// Ping checks the health connection.
func (p *PostgresDB) Ping() error {
	return p.DB.Ping()
}

func (p *PostgresDB) Close() error {
	err := p.DB.Close()

	sqlDB, gerr := p.GormDB.DB()
	if gerr != nil {
		return multierr.Append(err, fmt.Errorf("failed to get sql.DB from GORM: %w", gerr))
	}
	return multierr.Append(err, sqlDB.Close())
}
