package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
)

type widget struct {
	ID   int
	Code string `gorm:"uniqueIndex"`
}

func openWidgets(t *testing.T) *Client {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "client.db")), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&widget{}))
	client := Wrap(conn)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func countWidgets(t *testing.T, c *Client) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.DB().Model(&widget{}).Count(&n).Error)
	return n
}

func TestWithTx(t *testing.T) {
	client := openWidgets(t)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&widget{Code: "kept"}).Error
	}))
	require.EqualValues(t, 1, countWidgets(t, client))

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&widget{Code: "dropped"}).Error)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 1, countWidgets(t, client))

	require.Panics(t, func() {
		_ = client.WithTx(ctx, func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&widget{Code: "panicked"}).Error)
			panic("boom")
		})
	})
	require.EqualValues(t, 1, countWidgets(t, client))
}

func TestPing(t *testing.T) {
	require.NoError(t, openWidgets(t).Ping(context.Background()))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{Driver: config.DriverSQLite}, nil)
	require.ErrorContains(t, err, "DSN")
}

func TestNewOpensSQLite(t *testing.T) {
	cfg := config.DBConfig{
		Driver:       config.DriverSQLite,
		DSN:          filepath.Join(t.TempDir(), "new.db"),
		MaxOpenConns: 1,
	}
	client, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer client.Close()

	pool, err := client.pool()
	require.NoError(t, err)
	require.Equal(t, 1, pool.Stats().MaxOpenConnections)
}

func TestIsUniqueViolationSQLite(t *testing.T) {
	client := openWidgets(t)
	require.NoError(t, client.DB().Create(&widget{Code: "dup"}).Error)

	err := client.DB().Create(&widget{Code: "dup"}).Error
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err, "any_constraint"), "sqlite cannot name the constraint: %v", err)
}

func TestIsUniqueViolationPostgres(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_payrolls_period"})

	require.True(t, IsUniqueViolation(err, "ux_payrolls_period"))
	require.True(t, IsUniqueViolation(err, ""))
	require.False(t, IsUniqueViolation(err, "ux_organizations_code"))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""), "foreign key violation")
	require.False(t, IsUniqueViolation(nil, ""))
}

func TestDialectorFor(t *testing.T) {
	_, err := dialectorFor(config.DBConfig{Driver: "mysql", DSN: "x"})
	require.Error(t, err)

	d, err := dialectorFor(config.DBConfig{Driver: "SQLite", DSN: "file::memory:"})
	require.NoError(t, err)
	require.Equal(t, "sqlite", d.Name())

	d, err = dialectorFor(config.DBConfig{DSN: "postgres://localhost/payroll"})
	require.NoError(t, err)
	require.Equal(t, "postgres", d.Name())
}

func TestGormLoggerFiltersNoise(t *testing.T) {
	var buf bytes.Buffer
	gl := newGormLogger(logger.New(logger.Options{ServiceName: "test", Output: &buf}), 10*time.Millisecond)
	query := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	gl.Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)
	gl.Trace(ctx, time.Now(), query, nil)
	require.Zero(t, buf.Len(), buf.String())

	gl.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	require.Contains(t, buf.String(), "slow query")

	buf.Reset()
	gl.Trace(ctx, time.Now(), query, errors.New("relation does not exist"))
	require.Contains(t, buf.String(), "query failed")
	require.Contains(t, buf.String(), `"sql":"SELECT 1"`)

	buf.Reset()
	gl.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), query, errors.New("ignored"))
	require.Zero(t, buf.Len())
}
