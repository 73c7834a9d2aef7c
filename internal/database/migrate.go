// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtyDatabase は前回のマイグレーションが途中で失敗したままであることを表す。
// 手動でスキーマを修復し、migrate forceでバージョンを確定させる必要がある。
var ErrDirtyDatabase = errors.New("database schema is dirty")

// MigrationResult は適用前後のスキーマバージョン。0は未適用を表す。
type MigrationResult struct {
	From uint
	To   uint
}

// Changed は新たにマイグレーションが適用されたかどうかを返す。
func (r MigrationResult) Changed() bool {
	return r.From != r.To
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。
// すでに最新の場合はFromとToが等しい結果を返す。
func RunMigrations(databaseURL string) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	from, dirty, err := schemaVersion(m)
	if err != nil {
		return MigrationResult{}, err
	}
	if dirty {
		return MigrationResult{From: from, To: from}, fmt.Errorf("%w at version %d", ErrDirtyDatabase, from)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{From: from, To: from}, fmt.Errorf("failed to run migrations: %w", err)
	}

	to, _, err := schemaVersion(m)
	if err != nil {
		return MigrationResult{From: from}, err
	}
	return MigrationResult{From: from, To: to}, nil
}

func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}
