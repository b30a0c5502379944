//nolint:whitespace // can't make both editor and linter happy
package racelog

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/aarondl/opt/null"
	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/dm"
	"github.com/stephenafamo/bob/dialect/psql/sm"
	"github.com/stephenafamo/scan"

	"github.com/mpapenbr/lapcounter-go/pkg/db/mytypes"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
	"github.com/mpapenbr/lapcounter-go/pkg/repository/api"
	bobCtx "github.com/mpapenbr/lapcounter-go/pkg/repository/bob/context"
)

const (
	tableEvent    = "race_event"
	tableSnapshot = "race_snapshot"
	tableLatest   = "race_latest"
	tableStanding = "race_standing"
)

type (
	repo struct {
		conn bob.Executor
	}
	eventRow struct {
		ID      uuid.UUID         `db:"id"`
		Arrival int64             `db:"arrival"`
		Data    mytypes.EventData `db:"data"`
	}
	snapshotRow struct {
		Data mytypes.SnapshotData `db:"data"`
	}
	lastUpdateRow struct {
		Last null.Val[int64] `db:"last"`
	}
	standingRow struct {
		TeamNb         int                       `db:"team_nb"`
		Laps           int                       `db:"laps"`
		Fragments      int                       `db:"fragments"`
		Speed          null.Val[decimal.Decimal] `db:"speed"`
		PredictedSpeed null.Val[decimal.Decimal] `db:"predicted_speed"`
		LastSeen       null.Val[time.Time]       `db:"last_seen"`
	}
)

var _ api.RaceLogRepository = (*repo)(nil)

func NewRaceLogRepository(conn bob.Executor) api.RaceLogRepository {
	return &repo{
		conn: conn,
	}
}

func (r *repo) AppendEvent(ctx context.Context, rec api.EventRecord) error {
	return r.insertEvent(ctx, rec)
}

func (r *repo) insertEvent(ctx context.Context, rec api.EventRecord) error {
	readerID, updateCount := null.Val[int]{}, null.Val[int64]{}
	if ts, ok := rec.Event.(model.TagSeen); ok {
		readerID = null.From(ts.ReaderID)
		updateCount = null.From(ts.UpdateCount)
	}
	q := psql.RawQuery(`
INSERT INTO race_event (id, arrival, kind, event_time, data, reader_id, update_count)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Arrival,
		string(rec.Event.Kind()),
		rec.Event.Time(),
		mytypes.EventData{Event: rec.Event},
		readerID,
		updateCount,
	)
	_, err := bob.Exec(ctx, r.getExecutor(ctx), q)
	return err
}

func (r *repo) ReplaceWithIdentity(
	ctx context.Context,
	old, identity api.EventRecord,
) error {
	q := psql.RawQuery(`UPDATE race_event SET removed = true WHERE id = ?`, old.ID)
	if _, err := bob.Exec(ctx, r.getExecutor(ctx), q); err != nil {
		return err
	}
	identity.Arrival = old.Arrival
	return r.insertEvent(ctx, identity)
}

// SaveDelta should be called within a transaction
//
//nolint:funlen // by design
func (r *repo) SaveDelta(ctx context.Context, d api.Delta) error {
	exec := r.getExecutor(ctx)
	latest := d.Latest()
	if latest == nil {
		return nil
	}
	del := psql.Delete(
		dm.From(tableSnapshot),
		dm.Where(psql.Quote("position").GTE(psql.Arg(d.From))),
	)
	if _, err := bob.Exec(ctx, exec, del); err != nil {
		return err
	}
	for i, snap := range d.Snapshots {
		eventID := null.Val[uuid.UUID]{}
		if i < len(d.EventIDs) && d.EventIDs[i] != uuid.Nil {
			eventID = null.From(d.EventIDs[i])
		}
		q := psql.RawQuery(`
INSERT INTO race_snapshot (position, event_id, snapshot_time, data)
VALUES (?, ?, ?, ?)`,
			d.From+i,
			eventID,
			snap.SnapshotTime,
			mytypes.SnapshotData{Snapshot: snap},
		)
		if _, err := bob.Exec(ctx, exec, q); err != nil {
			return err
		}
	}

	upsert := psql.RawQuery(`
INSERT INTO race_latest (id, position, snapshot_time, data, updated_at)
VALUES (1, ?, ?, ?, now())
ON CONFLICT (id) DO UPDATE SET
  position = EXCLUDED.position,
  snapshot_time = EXCLUDED.snapshot_time,
  data = EXCLUDED.data,
  updated_at = EXCLUDED.updated_at`,
		d.From+len(d.Snapshots)-1,
		latest.SnapshotTime,
		mytypes.SnapshotData{Snapshot: latest},
	)
	if _, err := bob.Exec(ctx, exec, upsert); err != nil {
		return err
	}
	return r.replaceStandings(ctx, exec, d.Standings)
}

func (r *repo) replaceStandings(
	ctx context.Context,
	exec bob.Executor,
	standings []api.Standing,
) error {
	if _, err := bob.Exec(ctx, exec, psql.Delete(dm.From(tableStanding))); err != nil {
		return err
	}
	for _, s := range standings {
		q := psql.RawQuery(`
INSERT INTO race_standing (team_nb, laps, fragments, speed, predicted_speed, last_seen)
VALUES (?, ?, ?, ?, ?, ?)`,
			s.TeamNb,
			s.Laps,
			s.Fragments,
			toDecimal(s.Speed),
			toDecimal(s.PredictedSpeed),
			null.FromPtr(s.LastSeen),
		)
		if _, err := bob.Exec(ctx, exec, q); err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) LoadEvents(ctx context.Context) ([]api.EventRecord, error) {
	q := psql.Select(
		sm.Columns("id", "arrival", "data"),
		sm.From(tableEvent),
		sm.Where(psql.Quote("removed").EQ(psql.Arg(false))),
		sm.OrderBy("event_time").Asc(),
		sm.OrderBy("arrival").Asc(),
	)
	rows, err := bob.All(ctx, r.getExecutor(ctx), q, scan.StructMapper[eventRow]())
	if err != nil {
		return nil, err
	}
	ret := make([]api.EventRecord, 0, len(rows))
	for i := range rows {
		ret = append(ret, api.EventRecord{
			ID:      rows[i].ID,
			Arrival: rows[i].Arrival,
			Event:   rows[i].Data.Event,
		})
	}
	return ret, nil
}

func (r *repo) LoadSnapshots(ctx context.Context) ([]*model.Snapshot, error) {
	q := psql.Select(
		sm.Columns("data"),
		sm.From(tableSnapshot),
		sm.OrderBy("position").Asc(),
	)
	rows, err := bob.All(ctx, r.getExecutor(ctx), q, scan.StructMapper[snapshotRow]())
	if err != nil {
		return nil, err
	}
	ret := make([]*model.Snapshot, 0, len(rows))
	for i := range rows {
		ret = append(ret, rows[i].Data.Snapshot)
	}
	return ret, nil
}

func (r *repo) LoadLatest(ctx context.Context) (*model.Snapshot, error) {
	q := psql.Select(
		sm.Columns("data"),
		sm.From(tableLatest),
		sm.Where(psql.Quote("id").EQ(psql.Arg(1))),
	)
	row, err := bob.One(ctx, r.getExecutor(ctx), q, scan.StructMapper[snapshotRow]())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrNoRows
		}
		return nil, err
	}
	return row.Data.Snapshot, nil
}

func (r *repo) LoadStandings(ctx context.Context) ([]api.Standing, error) {
	q := psql.Select(
		sm.Columns("team_nb", "laps", "fragments", "speed", "predicted_speed", "last_seen"),
		sm.From(tableStanding),
		sm.OrderBy("team_nb").Asc(),
	)
	rows, err := bob.All(ctx, r.getExecutor(ctx), q, scan.StructMapper[standingRow]())
	if err != nil {
		return nil, err
	}
	ret := make([]api.Standing, 0, len(rows))
	for i := range rows {
		s := api.Standing{
			TeamNb:         rows[i].TeamNb,
			Laps:           rows[i].Laps,
			Fragments:      rows[i].Fragments,
			Speed:          fromDecimal(rows[i].Speed),
			PredictedSpeed: fromDecimal(rows[i].PredictedSpeed),
		}
		if t, ok := rows[i].LastSeen.Get(); ok {
			s.LastSeen = &t
		}
		ret = append(ret, s)
	}
	return ret, nil
}

func (r *repo) LastUpdateForReader(
	ctx context.Context,
	readerID int,
) (count int64, found bool, err error) {
	q := psql.RawQuery(`
SELECT max(update_count) AS last FROM race_event
WHERE kind = 'TagSeen' AND reader_id = ?`, readerID)
	row, err := bob.One(ctx, r.getExecutor(ctx), q, scan.StructMapper[lastUpdateRow]())
	if err != nil {
		return 0, false, err
	}
	count, found = row.Last.Get()
	return count, found, nil
}

func (r *repo) Clear(ctx context.Context) error {
	q := psql.RawQuery(`TRUNCATE race_standing, race_latest, race_snapshot, race_event`)
	_, err := bob.Exec(ctx, r.getExecutor(ctx), q)
	return err
}

func toDecimal(f float64) null.Val[decimal.Decimal] {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return null.Val[decimal.Decimal]{}
	}
	return null.From(decimal.NewFromFloat(f))
}

func fromDecimal(v null.Val[decimal.Decimal]) float64 {
	if d, ok := v.Get(); ok {
		return d.InexactFloat64()
	}
	return math.NaN()
}

func (r *repo) getExecutor(ctx context.Context) bob.Executor {
	return bobCtx.Executor(ctx, r.conn)
}
