package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func fastConfig() Config {
	cfg := DefaultConfig
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.JitterEnabled = false
	return cfg
}

func TestIsRetryableError(t *testing.T) {
	cfg := DefaultConfig

	assert.False(t, IsRetryableError(nil, cfg))
	assert.True(t, IsRetryableError(&mysqlDriver.MySQLError{Number: 1213, Message: "Deadlock found"}, cfg))
	assert.True(t, IsRetryableError(&mysqlDriver.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, cfg))
	assert.False(t, IsRetryableError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"}, cfg))
	assert.True(t, IsRetryableError(gorm.ErrInvalidTransaction, cfg))
	assert.False(t, IsRetryableError(gorm.ErrDuplicatedKey, cfg))
	assert.False(t, IsRetryableError(errors.New("syntax error"), cfg))

	noDeadlock := cfg
	noDeadlock.RetryOnDeadlock = false
	assert.False(t, IsRetryableError(&mysqlDriver.MySQLError{Number: 1213}, noDeadlock))

	withPredicate := cfg
	withPredicate.RetryPredicate = func(err error) bool {
		return err.Error() == "custom transient"
	}
	assert.True(t, IsRetryableError(errors.New("custom transient"), withPredicate))
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	cfg := Config{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, time.Duration(0), ExponentialBackoffWithJitter(0, cfg))
	assert.Equal(t, 100*time.Millisecond, ExponentialBackoffWithJitter(1, cfg))
	assert.Equal(t, 200*time.Millisecond, ExponentialBackoffWithJitter(2, cfg))
	assert.Equal(t, 400*time.Millisecond, ExponentialBackoffWithJitter(3, cfg))
	// Capped at MaxDelay.
	assert.Equal(t, time.Second, ExponentialBackoffWithJitter(10, cfg))

	cfg.JitterEnabled = true
	for i := 0; i < 20; i++ {
		d := ExponentialBackoffWithJitter(2, cfg)
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}

func TestExecuteWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := fastConfig()

	attempts := 0
	err := ExecuteWithRetry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &mysqlDriver.MySQLError{Number: 1213, Message: "Deadlock found"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithRetryStopsOnNonRetryableError(t *testing.T) {
	cfg := fastConfig()

	attempts := 0
	permanent := fmt.Errorf("constraint violation")
	err := ExecuteWithRetry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestExecuteWithRetryExhaustsAttempts(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 3

	attempts := 0
	deadlock := &mysqlDriver.MySQLError{Number: 1213, Message: "Deadlock found"}
	err := ExecuteWithRetry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return deadlock
	})
	require.Error(t, err)
	var mysqlErr *mysqlDriver.MySQLError
	require.ErrorAs(t, err, &mysqlErr)
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithRetryDisabledRunsOnce(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = false

	attempts := 0
	err := ExecuteWithRetry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return &mysqlDriver.MySQLError{Number: 1213}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecuteWithRetryHonorsContextCancellation(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := ExecuteWithRetry(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return &mysqlDriver.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
