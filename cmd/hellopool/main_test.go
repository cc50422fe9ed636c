package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/vnykmshr/hellopool/internal/config"
	hperrors "github.com/vnykmshr/hellopool/pkg/common/errors"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseFlags(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	var (
		cfg     config.Config
		loadErr error
	)
	app := newApp()
	app.Action = func(ctx context.Context, cmd *cli.Command) error {
		cfg, loadErr = loadConfig(cmd)
		return nil
	}
	require.NoError(t, app.Run(context.Background(), append([]string{"hellopool"}, args...)))
	return cfg, loadErr
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := parseFlags(t)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	cfg, err := parseFlags(t, "--addr", "127.0.0.1:9999", "-w", "7", "--log-level", "debug")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Pool.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigRejectsZeroWorkers(t *testing.T) {
	_, err := parseFlags(t, "--workers", "0")
	assert.ErrorIs(t, err, hperrors.ErrInvalidConfiguration)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Admission.Mode = config.AdmissionLocal

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, run(ctx, cfg, quietLogger()))
}

func TestRunFailsOnInvalidAddress(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "256.0.0.1:1"

	err := run(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestBuildAdmitter(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	admitter, cleanup, err := buildAdmitter(ctx, cfg, nil, quietLogger())
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, admitter)

	cfg.Admission.Mode = config.AdmissionLocal
	cfg.Admission.Burst = 1
	admitter, cleanup, err = buildAdmitter(ctx, cfg, nil, quietLogger())
	require.NoError(t, err)
	defer cleanup()
	assert.True(t, admitter.Admit(ctx))
	assert.False(t, admitter.Admit(ctx))
}

func TestBuildAdmitterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cfg := config.Default()
	cfg.Admission.Mode = config.AdmissionRedis
	cfg.Admission.Limit = 2
	cfg.Admission.Window = time.Hour
	cfg.Redis.Addr = mr.Addr()

	admitter, cleanup, err := buildAdmitter(ctx, cfg, nil, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.True(t, admitter.Admit(ctx))
	assert.True(t, admitter.Admit(ctx))
	assert.False(t, admitter.Admit(ctx))
}

func TestBuildAdmitterRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Admission.Mode = config.AdmissionRedis
	cfg.Redis.Addr = addr
	cfg.Redis.Timeout = 100 * time.Millisecond

	_, _, err := buildAdmitter(context.Background(), cfg, nil, quietLogger())
	assert.Error(t, err)
}
