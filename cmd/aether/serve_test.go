package main

import (
	"net"
	"testing"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_ListenFailureIsReturned(t *testing.T) {
	busy, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer busy.Close()

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Server.Port = busy.Addr().(*net.TCPAddr).Port
	cfg.Logging.Level = "error"

	err = serve(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API server failed")
}
