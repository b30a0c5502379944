package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/config"
)

func TestNewServerCmd_Flags(t *testing.T) {
	t.Cleanup(func() { config.WatchRaceCfg = false })
	cmd := NewServerCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--watch-race-config",
		"-r", "other.yml",
		"--http-addr", ":9000",
	}))
	assert.True(t, config.WatchRaceCfg)
	assert.Equal(t, "other.yml", config.RaceConfigFile)
	assert.Equal(t, ":9000", config.HTTPAddr)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, log.WarnLevel, parseLogLevel("warn", log.InfoLevel))
	assert.Equal(t, log.ErrorLevel, parseLogLevel("noise", log.ErrorLevel))
}
