// Package teamstate computes lap fragments and speeds for a team from tag sightings.
package teamstate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mpapenbr/lapcounter-go/pkg/model"
)

const (
	// Alpha is the weight of the newest speed in the predicted speed
	Alpha = 0.4
	// DefaultSameReaderLapThreshold is the default for Options.SameReaderLapThreshold
	DefaultSameReaderLapThreshold = 30 * time.Second
	// DefaultMaxSpeedKmPerH is the default for Options.MaxSpeedKmPerH
	DefaultMaxSpeedKmPerH = 44.72
)

var ErrInvalidTrack = errors.New("invalid track")

// Track describes a closed loop with readers at fixed positions (meters from the line).
// Reader ids are indexes into Positions.
type Track struct {
	Length    float64
	Positions []float64
}

func (t Track) NbReaders() int {
	return len(t.Positions)
}

func (t Track) Validate() error {
	if len(t.Positions) == 0 {
		return fmt.Errorf("%w: no readers", ErrInvalidTrack)
	}
	if t.Length <= 0 {
		return fmt.Errorf("%w: length must be positive", ErrInvalidTrack)
	}
	for i, p := range t.Positions {
		if p < 0 || p >= t.Length {
			return fmt.Errorf("%w: reader %d position %v outside track", ErrInvalidTrack, i, p)
		}
		if i > 0 && p <= t.Positions[i-1] {
			return fmt.Errorf("%w: reader positions must be increasing", ErrInvalidTrack)
		}
	}
	return nil
}

// Distance is the forward distance from reader from to reader to.
// Going from a reader to itself is a full lap.
func (t Track) Distance(from, to int) float64 {
	if from < to {
		return t.Positions[to] - t.Positions[from]
	}
	return t.Length - t.Positions[from] + t.Positions[to]
}

// fragmentDistance sums the track length covered by fragments [from, to)
func (t Track) fragmentDistance(from, to int) float64 {
	n := t.NbReaders()
	distance := 0.0
	for i := from; i < to; i++ {
		j, k := i%n, (i+1)%n
		if j == k {
			distance += t.Length
		} else {
			distance += t.Distance(j, k)
		}
	}
	return distance
}

type Options struct {
	// a repeated sighting at the first reader after this time counts as a lap
	SameReaderLapThreshold time.Duration
	EnableOutlierDetection bool
	MaxSpeedKmPerH         float64
}

func DefaultOptions() Options {
	return Options{
		SameReaderLapThreshold: DefaultSameReaderLapThreshold,
		EnableOutlierDetection: true,
		MaxSpeedKmPerH:         DefaultMaxSpeedKmPerH,
	}
}

// Engine holds the track and the tuning values. It has no mutable state.
type Engine struct {
	track Track
	opts  Options
}

func NewEngine(track Track, opts Options) (*Engine, error) {
	if err := track.Validate(); err != nil {
		return nil, err
	}
	return &Engine{track: track, opts: opts}, nil
}

func (e *Engine) Track() Track {
	return e.track
}

func (e *Engine) NbReaders() int {
	return e.track.NbReaders()
}

// AddTagSeen returns the state of a team after it was seen by a reader.
// snap is the snapshot the sighting is applied to, it provides the race start.
func (e *Engine) AddTagSeen(prior model.TeamState, snap *model.Snapshot, ev model.TagSeen) model.TeamState {
	n := e.track.NbReaders()
	last := e.lastSighting(prior)
	runningLongEnough := snap.StartTime.Before(ev.At) &&
		ev.At.Sub(snap.StartTime) >= e.opts.SameReaderLapThreshold

	lastReader := 0
	if last != nil {
		lastReader = last.ReaderID
	}
	diff := ev.ReaderID - lastReader
	if diff < 0 {
		diff += n
	} else if diff == 0 && (last != nil || runningLongEnough) {
		diff = n
	}

	seen := ev
	ret := model.TeamState{
		LastTagSeen:    &seen,
		FragmentCount:  prior.FragmentCount + diff,
		Speed:          math.NaN(),
		PredictedSpeed: math.NaN(),
	}

	var distance float64
	var elapsed time.Duration
	switch {
	case last != nil:
		distance = e.track.fragmentDistance(prior.FragmentCount, ret.FragmentCount)
		elapsed = ev.At.Sub(last.At)
	case runningLongEnough:
		distance = e.track.Positions[ev.ReaderID]
		elapsed = ev.At.Sub(snap.StartTime)
	default:
		return ret
	}
	if elapsed <= 0 {
		ret.PredictedSpeed = prior.PredictedSpeed
		return ret
	}
	ret.Speed = distance / elapsed.Seconds()
	if math.IsNaN(prior.PredictedSpeed) {
		ret.PredictedSpeed = ret.Speed
	} else {
		ret.PredictedSpeed = Alpha*ret.Speed + (1-Alpha)*prior.PredictedSpeed
	}
	return ret
}

// AddCorrection adds correction laps, the fragment count never drops below zero.
// Speeds are not changed.
func (e *Engine) AddCorrection(prior model.TeamState, correction int) model.TeamState {
	ret := prior
	ret.FragmentCount = prior.FragmentCount + correction*e.track.NbReaders()
	if ret.FragmentCount < 0 {
		ret.FragmentCount = 0
	}
	return ret
}

// Outlier checks the speed between the previous sighting of a team and ev.
// The returned speed is in km/h. A reading is an outlier if outlier detection
// is enabled and the speed exceeds the configured maximum.
func (e *Engine) Outlier(prior model.TeamState, ev model.TagSeen) (kmh float64, outlier bool) {
	last := e.lastSighting(prior)
	if last == nil || !e.ValidReader(ev.ReaderID) {
		return math.NaN(), false
	}
	secs := ev.At.Sub(last.At).Seconds()
	if secs <= 0 {
		return math.Inf(1), e.opts.EnableOutlierDetection
	}
	kmh = e.track.Distance(last.ReaderID, ev.ReaderID) / secs * 3.6
	return kmh, e.opts.EnableOutlierDetection && kmh > e.opts.MaxSpeedKmPerH
}

// ValidReader reports whether id refers to a configured reader
func (e *Engine) ValidReader(id int) bool {
	return id >= 0 && id < e.track.NbReaders()
}

// lastSighting is the previous sighting of a team, nil if there is none or if it
// was made by a reader which is no longer configured.
func (e *Engine) lastSighting(s model.TeamState) *model.TagSeen {
	if s.LastTagSeen == nil || !e.ValidReader(s.LastTagSeen.ReaderID) {
		return nil
	}
	return s.LastTagSeen
}
