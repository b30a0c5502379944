package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/poll"

	"github.com/mpapenbr/lapcounter-go/pkg/bus"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/racelog"
	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

const sampleRace = `
trackLength: 400
readers:
  - position: 0
    url: nats://reader0
  - position: 150
  - position: 300
teams:
  - teamNb: 2
    name: Second
    tags: ["0B", "0c"]
  - teamNb: 1
    name: First
    tags: ["0A"]
  - teamNb: 3
sameReaderLapThreshold: 10s
`

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	file := filepath.Join(dir, "race.yml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))
	return file
}

func TestLoadRaceConfig(t *testing.T) {
	cfg, err := LoadRaceConfig(writeFile(t, t.TempDir(), sampleRace))
	require.NoError(t, err)

	assert.Equal(t, 400.0, cfg.Track().Length)
	assert.Equal(t, []float64{0, 150, 300}, cfg.Track().Positions)
	assert.Equal(t, []int{0, 1, 2}, cfg.ReaderIDs())
	assert.Equal(t, "nats://reader0", cfg.Readers[0].URL)

	opts := cfg.EngineOptions()
	assert.Equal(t, 10*time.Second, opts.SameReaderLapThreshold)
	assert.True(t, opts.EnableOutlierDetection)
	assert.InDelta(t, 44.72, opts.MaxSpeedKmPerH, 1e-9)
	assert.Equal(t, 5*time.Second, cfg.RetryInterval)

	assert.Equal(t, bus.Channels{
		Status:  "status.track",
		Control: "control.track",
		Update:  "update.track",
	}, cfg.Channels("track"))

	assert.Equal(t, map[int]string{1: "First", 2: "Second"}, cfg.TeamNames())
	assert.Equal(t, []racelog.TeamTags{
		{TeamNb: 1, Tags: []tagid.TagID{tagid.MustParse("0A")}},
		{TeamNb: 2, Tags: []tagid.TagID{tagid.MustParse("0B"), tagid.MustParse("0C")}},
	}, cfg.TeamTags())
}

func TestLoadRaceConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no readers", "trackLength: 400\n"},
		{"decreasing positions", "trackLength: 400\nreaders: [{position: 100}, {position: 50}]\n"},
		{"position outside", "trackLength: 400\nreaders: [{position: 400}]\n"},
		{
			"duplicate team",
			"trackLength: 400\nreaders: [{position: 0}]\nteams: [{teamNb: 1}, {teamNb: 1}]\n",
		},
		{
			"bad tag",
			"trackLength: 400\nreaders: [{position: 0}]\nteams: [{teamNb: 1, tags: [xyz]}]\n",
		},
		{
			"shared tag",
			"trackLength: 400\nreaders: [{position: 0}]\n" +
				"teams: [{teamNb: 1, tags: [AA]}, {teamNb: 2, tags: [aa]}]\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRaceConfig(writeFile(t, t.TempDir(), tt.content))
			assert.ErrorIs(t, err, ErrInvalidRaceConfig)
		})
	}
	_, err := LoadRaceConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestAddedTags(t *testing.T) {
	prev := &RaceConfig{Teams: []TeamConfig{
		{TeamNb: 1, Tags: []string{"0A"}},
		{TeamNb: 2, Tags: []string{"0B"}},
	}}
	next := &RaceConfig{Teams: []TeamConfig{
		{TeamNb: 1, Tags: []string{"0A", "1A"}},
		{TeamNb: 2, Tags: []string{"0B"}},
		{TeamNb: 3, Tags: []string{"0C"}},
	}}
	assert.Equal(t, []racelog.TeamTags{
		{TeamNb: 1, Tags: []tagid.TagID{tagid.MustParse("1A")}},
		{TeamNb: 3, Tags: []tagid.TagID{tagid.MustParse("0C")}},
	}, AddedTags(prev, next))
	assert.Empty(t, AddedTags(next, prev))
}

func TestWatchRaceConfig(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, sampleRace)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got *RaceConfig
	require.NoError(t, WatchRaceConfig(ctx, file, func(cfg *RaceConfig) {
		mu.Lock()
		defer mu.Unlock()
		got = cfg
	}))

	writeFile(t, dir, "trackLength: 400\nreaders: [{position: 100}, {position: 50}]\n")
	writeFile(t, dir, strings.Replace(sampleRace,
		"  - teamNb: 3\n", "  - teamNb: 3\n  - teamNb: 4\n    tags: [\"0D\"]\n", 1))
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		mu.Lock()
		defer mu.Unlock()
		if got != nil && len(got.Teams) == 4 {
			return poll.Success()
		}
		return poll.Continue("config not reloaded")
	}, poll.WithTimeout(2*time.Second))
}
