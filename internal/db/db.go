package db

import (
	"context"
	"database/sql"
	"fmt"

	"paylink-service/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// ConnStr builds a postgres connection string from the database config.
func ConnStr(cfg config.Database) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode)
}

// RunMigrations applies all pending goose migrations.
func RunMigrations(connStr, migrationsDir string) error {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return goose.Up(sqlDB, migrationsDir)
}

// GetPool opens a pgx connection pool.
func GetPool(connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, err
	}
	return pool, nil
}
