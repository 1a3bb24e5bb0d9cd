package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"

	"smallbiznis-rewardclaim/pkg/config"
)

func TestDialect(t *testing.T) {
	cases := []struct {
		dbType string
		name   string
	}{
		{dbType: "", name: "postgres"},
		{dbType: "postgres", name: "postgres"},
		{dbType: "mysql", name: "mysql"},
		{dbType: "sqlite", name: "sqlite"},
	}

	for _, tc := range cases {
		cfg := &config.Config{}
		cfg.Database.Type = tc.dbType
		d, err := Dialect(cfg)
		require.NoError(t, err)
		require.Equal(t, tc.name, d.Name())
	}

	cfg := &config.Config{}
	cfg.Database.Type = "oracle"
	_, err := Dialect(cfg)
	require.Error(t, err)
}

func TestNewSqlite(t *testing.T) {
	cfg := &config.Config{AppEnv: "production"}
	cfg.Database.Type = "sqlite"
	cfg.Database.DBNAME = "file::memory:"

	d, err := Dialect(cfg)
	require.NoError(t, err)

	gdb, err := New(cfg, d)
	require.NoError(t, err)
	require.True(t, gdb.Config.TranslateError)
	require.NoError(t, RegisterPlugins(pluginParams{DB: gdb, Config: cfg}))
}

func TestOtelRecordsStatementSpans(t *testing.T) {
	cfg := &config.Config{AppEnv: "production"}
	cfg.Database.Type = "sqlite"
	cfg.Database.DBNAME = "file::memory:"

	d, err := Dialect(cfg)
	require.NoError(t, err)
	gdb, err := New(cfg, d)
	require.NoError(t, err)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	require.NoError(t, Otel(gdb, tp))

	require.NoError(t, gdb.Exec("SELECT 1").Error)
	require.NotEmpty(t, sr.Ended())
}

func TestZapGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapGormLogger(zap.New(core), logger.Info, true)
	ctx := context.Background()

	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	l.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 2", 0 }, logger.ErrRecordNotFound)
	l.Trace(ctx, time.Now(), func() (string, int64) { return "INSERT", 0 }, errors.New("boom"))
	l.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "UPDATE", 1 }, nil)

	require.Equal(t, 3, logs.FilterMessage("gorm.query").Len())
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	require.Equal(t, 1, logs.FilterMessage("gorm.slow_query").Len())

	silent := l.LogMode(logger.Silent)
	silent.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 3", 1 }, errors.New("ignored"))
	require.Equal(t, 4, logs.Len())
}
