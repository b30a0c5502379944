// Package public serves a read-only HTTP view of the race.
package public

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/processing/racelog"
)

type (
	// SnapshotSource provides the latest snapshot, nil if none is available yet
	SnapshotSource interface {
		Latest() *model.Snapshot
	}

	Handler struct {
		src       SnapshotSource
		nbReaders int
		names     map[int]string
		mux       *http.ServeMux
		l         *log.Logger
	}
	Option func(*Handler)

	standingJSON struct {
		TeamNb         int        `json:"teamNb"`
		Name           string     `json:"name,omitempty"`
		Laps           int        `json:"laps"`
		Fragments      int        `json:"fragments"`
		Speed          *float64   `json:"speed,omitempty"`
		PredictedSpeed *float64   `json:"predictedSpeed,omitempty"`
		LastSeen       *time.Time `json:"lastSeen,omitempty"`
	}
	standingsJSON struct {
		SnapshotTime  int64          `json:"snapshotTime"`
		Status        model.Status   `json:"status"`
		StatusMessage string         `json:"statusMessage"`
		Standings     []standingJSON `json:"standings"`
	}
)

func WithTeamNames(names map[int]string) Option {
	return func(h *Handler) {
		h.names = names
	}
}

func WithLogger(l *log.Logger) Option {
	return func(h *Handler) {
		h.l = l
	}
}

func NewHandler(src SnapshotSource, nbReaders int, opts ...Option) *Handler {
	ret := &Handler{
		src:       src,
		nbReaders: nbReaders,
		names:     map[int]string{},
		mux:       http.NewServeMux(),
		l:         log.Default().Named("http"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.mux.HandleFunc("GET /api/snapshot", ret.snapshot)
	ret.mux.HandleFunc("GET /api/standings", ret.standings)
	ret.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // by design
		w.Write([]byte("ok"))
	})
	return ret
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// NewServer serves h on addr, allowing HTTP/2 without TLS
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(newCORS().Handler(h), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *Handler) snapshot(w http.ResponseWriter, _ *http.Request) {
	s := h.src.Latest()
	if s == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, s)
}

func (h *Handler) standings(w http.ResponseWriter, _ *http.Request) {
	s := h.src.Latest()
	if s == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	standings := racelog.Standings(s, h.nbReaders)
	ret := standingsJSON{
		SnapshotTime:  model.Millis(s.SnapshotTime),
		Status:        s.Status,
		StatusMessage: s.StatusMessage,
		Standings:     make([]standingJSON, 0, len(standings)),
	}
	for _, st := range standings {
		ret.Standings = append(ret.Standings, standingJSON{
			TeamNb:         st.TeamNb,
			Name:           h.names[st.TeamNb],
			Laps:           st.Laps,
			Fragments:      st.Fragments,
			Speed:          known(st.Speed),
			PredictedSpeed: known(st.PredictedSpeed),
			LastSeen:       st.LastSeen,
		})
	}
	h.writeJSON(w, ret)
}

func known(f float64) *float64 {
	if math.IsNaN(f) {
		return nil
	}
	return &f
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.l.Error("could not encode response", log.ErrorField(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	//nolint:errcheck // by design
	w.Write(data)
}

func newCORS() *cors.Cors {
	// read-only data, any origin may fetch it
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders: []string{"*"},
		MaxAge:         int(2 * time.Hour / time.Second),
	})
}
