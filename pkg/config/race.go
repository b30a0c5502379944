package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"

	"github.com/mpapenbr/lapcounter-go/pkg/bus"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/racelog"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/teamstate"
	"github.com/mpapenbr/lapcounter-go/pkg/reader"
	"github.com/mpapenbr/lapcounter-go/pkg/tagid"
)

var ErrInvalidRaceConfig = errors.New("invalid race config")

type (
	ReaderConfig struct {
		Position float64 `mapstructure:"position"`
		URL      string  `mapstructure:"url"`
	}
	TeamConfig struct {
		TeamNb int      `mapstructure:"teamNb"`
		Name   string   `mapstructure:"name"`
		Tags   []string `mapstructure:"tags"`
	}
	// RaceConfig describes the track, the readers and the teams of a race
	RaceConfig struct {
		TrackLength            float64        `mapstructure:"trackLength"`
		Readers                []ReaderConfig `mapstructure:"readers"`
		Teams                  []TeamConfig   `mapstructure:"teams"`
		MaxSpeedKmPerH         float64        `mapstructure:"maxSpeedKmPerH"`
		RetryInterval          time.Duration  `mapstructure:"retryInterval"`
		SameReaderLapThreshold time.Duration  `mapstructure:"sameReaderLapThreshold"`
		EnableOutlierDetection bool           `mapstructure:"enableOutlierDetection"`
		StatusChannel          string         `mapstructure:"statusChannel"`
		ControlChannel         string         `mapstructure:"controlChannel"`
		UpdateChannel          string         `mapstructure:"updateChannel"`
	}
)

func setRaceDefaults(v *viper.Viper) {
	v.SetDefault("maxSpeedKmPerH", teamstate.DefaultMaxSpeedKmPerH)
	v.SetDefault("retryInterval", reader.DefaultRetryInterval)
	v.SetDefault("sameReaderLapThreshold", teamstate.DefaultSameReaderLapThreshold)
	v.SetDefault("enableOutlierDetection", true)
	v.SetDefault("statusChannel", "status")
	v.SetDefault("controlChannel", "control")
	v.SetDefault("updateChannel", "update")
}

// LoadRaceConfig reads and validates the race configuration in file (yaml or json)
func LoadRaceConfig(file string) (*RaceConfig, error) {
	v := viper.New()
	setRaceDefaults(v)
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read race config %s: %w", file, err)
	}
	ret := &RaceConfig{}
	if err := v.Unmarshal(ret); err != nil {
		return nil, fmt.Errorf("decode race config %s: %w", file, err)
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *RaceConfig) Validate() error {
	if err := c.Track().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRaceConfig, err)
	}
	if dups := lo.FindDuplicatesBy(c.Teams, func(t TeamConfig) int { return t.TeamNb }); len(dups) > 0 {
		return fmt.Errorf("%w: team %d configured more than once", ErrInvalidRaceConfig, dups[0].TeamNb)
	}
	owner := map[tagid.TagID]int{}
	for _, team := range c.Teams {
		for _, s := range team.Tags {
			tag, err := tagid.Parse(s)
			if err != nil {
				return fmt.Errorf("%w: team %d: %w", ErrInvalidRaceConfig, team.TeamNb, err)
			}
			if other, ok := owner[tag]; ok && other != team.TeamNb {
				return fmt.Errorf("%w: tag %s assigned to teams %d and %d",
					ErrInvalidRaceConfig, tag, other, team.TeamNb)
			}
			owner[tag] = team.TeamNb
		}
	}
	if c.MaxSpeedKmPerH <= 0 {
		return fmt.Errorf("%w: maxSpeedKmPerH must be positive", ErrInvalidRaceConfig)
	}
	return nil
}

func (c *RaceConfig) Track() teamstate.Track {
	return teamstate.Track{
		Length:    c.TrackLength,
		Positions: lo.Map(c.Readers, func(r ReaderConfig, _ int) float64 { return r.Position }),
	}
}

func (c *RaceConfig) EngineOptions() teamstate.Options {
	return teamstate.Options{
		SameReaderLapThreshold: c.SameReaderLapThreshold,
		EnableOutlierDetection: c.EnableOutlierDetection,
		MaxSpeedKmPerH:         c.MaxSpeedKmPerH,
	}
}

func (c *RaceConfig) Channels(instance string) bus.Channels {
	return bus.NewChannels(c.StatusChannel, c.ControlChannel, c.UpdateChannel, instance)
}

// ReaderIDs are the indexes of the configured readers
func (c *RaceConfig) ReaderIDs() []int {
	return lo.Range(len(c.Readers))
}

func (c *RaceConfig) TeamNames() map[int]string {
	return lo.SliceToMap(
		lo.Filter(c.Teams, func(t TeamConfig, _ int) bool { return t.Name != "" }),
		func(t TeamConfig) (int, string) { return t.TeamNb, t.Name })
}

// TeamTags returns the configured tags per team, ordered by team number.
// The config must be valid.
func (c *RaceConfig) TeamTags() []racelog.TeamTags {
	ret := lo.FilterMap(c.Teams, func(t TeamConfig, _ int) (racelog.TeamTags, bool) {
		tags := lo.Map(t.Tags, func(s string, _ int) tagid.TagID { return tagid.MustParse(s) })
		return racelog.TeamTags{TeamNb: t.TeamNb, Tags: tags}, len(tags) > 0
	})
	slices.SortFunc(ret, func(a, b racelog.TeamTags) int { return a.TeamNb - b.TeamNb })
	return ret
}

// AddedTags returns the tags of next which are not assigned to the same team in prev
func AddedTags(prev, next *RaceConfig) []racelog.TeamTags {
	known := map[int][]tagid.TagID{}
	for _, tt := range prev.TeamTags() {
		known[tt.TeamNb] = tt.Tags
	}
	return lo.FilterMap(next.TeamTags(), func(tt racelog.TeamTags, _ int) (racelog.TeamTags, bool) {
		tags := lo.Without(tt.Tags, known[tt.TeamNb]...)
		return racelog.TeamTags{TeamNb: tt.TeamNb, Tags: tags}, len(tags) > 0
	})
}
