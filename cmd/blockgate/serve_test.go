package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockgate-project/blockgate/internal/config"
	"github.com/blockgate-project/blockgate/internal/network"
)

func TestStartWithRetrySucceedsFirstTime(t *testing.T) {
	calls := 0
	err := startWithRetry(context.Background(), "test", func(context.Context) error {
		calls++
		return nil
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestStartWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- startWithRetry(ctx, "test", func(context.Context) error {
			calls++
			return errors.New("address in use")
		}, 10)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(3 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}

func TestStatusFunc(t *testing.T) {
	cfg := config.DefaultConfig()
	game := network.NewServer(cfg, nil, nil, nil)

	payload := statusFunc(game)().(map[string]interface{})
	assert.Equal(t, 0, payload["players_online"])
	assert.Equal(t, 20, payload["players_max"])
	assert.Equal(t, 0, payload["connections"])
	assert.NotContains(t, payload, "uptime_seconds")
}

func TestVersionCommand(t *testing.T) {
	cmd := versionCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--short"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())

	out.Reset()
	cmd.SetArgs([]string{})
	cmd.Flags().Set("short", "false")
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Protocol:   754 (1.16.5)")
}

func TestServeFlags(t *testing.T) {
	cmd := serveCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config-dir", "/tmp/bg", "--port", "25570", "--log-level", "debug"}))

	dir, err := cmd.Flags().GetString("config-dir")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/bg", dir)

	port, err := cmd.Flags().GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, 25570, port)
}
