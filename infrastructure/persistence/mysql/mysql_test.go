package mysql

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"uow/coordinator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestConfigDSN(t *testing.T) {
	cfg := &Config{
		Host:     "db.internal",
		Port:     "3307",
		Username: "writer",
		Password: "secret",
		Database: "uow",
	}
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "writer:secret@tcp(db.internal:3307)/uow")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestConfigParseLogLevel(t *testing.T) {
	cases := map[string]gormlogger.LogLevel{
		"debug":   gormlogger.Info,
		"info":    gormlogger.Info,
		"warn":    gormlogger.Warn,
		"error":   gormlogger.Error,
		"silent":  gormlogger.Silent,
		"unknown": gormlogger.Warn,
		"":        gormlogger.Warn,
	}
	for level, want := range cases {
		cfg := &Config{LogLevel: level}
		assert.Equal(t, want, cfg.parseLogLevel(), "level %q", level)
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	assert.Equal(t, DefaultMaxOpenConns, cfg.MaxOpenConns)
	assert.Equal(t, DefaultMaxIdleConns, cfg.MaxIdleConns)
	assert.Equal(t, DefaultConnMaxLifetime, cfg.ConnMaxLifetime)

	cfg = &Config{MaxOpenConns: 5, MaxIdleConns: 20}
	cfg.applyDefaults()
	assert.Equal(t, 5, cfg.MaxIdleConns, "idle conns are capped at open conns")
}

func TestFromEventSerializesPayload(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	ev := coordinator.BasicEvent{
		Name:      "order.placed",
		Aggregate: "order-7",
		At:        at,
		Data:      map[string]any{"total": 42},
	}

	row, err := fromEvent(ev)
	require.NoError(t, err)

	assert.NotEmpty(t, row.ID)
	assert.Equal(t, "order-7", row.AggregateID)
	assert.Equal(t, "order.placed", row.EventType)
	assert.Equal(t, string(EventStatusPending), row.Status)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.Payload), &payload))
	assert.Equal(t, "order.placed", payload["event_name"])
	assert.Equal(t, "order-7", payload["aggregate_id"])
	data, ok := payload["data"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 42, data["total"])
}

func TestSavepointsRequireAmbientTransaction(t *testing.T) {
	sp, err := NewSavepoints().Open(context.Background())
	require.Error(t, err)
	assert.Nil(t, sp)
}
