package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mpapenbr/lapcounter-go/log"
	"github.com/mpapenbr/lapcounter-go/pkg/bus"
	"github.com/mpapenbr/lapcounter-go/pkg/model"
)

const (
	Bucket    = "lapcounter"
	bucketTTL = 24 * time.Hour
)

var ErrNotFound = errors.New("no snapshot cached")

// SnapshotCache keeps the latest snapshot of an instance in a JetStream key value bucket
type SnapshotCache struct {
	kv  jetstream.KeyValue
	key string
	l   *log.Logger
}

func NewSnapshotCache(ctx context.Context, conn *nats.Conn, instance string) (*SnapshotCache, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, err
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: Bucket,
		TTL:    bucketTTL,
	})
	if err != nil {
		return nil, err
	}
	return &SnapshotCache{
		kv:  kv,
		key: bus.Namespaced("snapshot", keyPart(instance)),
		l:   log.Default().Named("nats"),
	}, nil
}

// keys must not be empty
func keyPart(instance string) string {
	if instance == "" {
		return "default"
	}
	return instance
}

func (c *SnapshotCache) Key() string {
	return c.key
}

func (c *SnapshotCache) PutLatest(ctx context.Context, s *model.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	rev, err := c.kv.Put(ctx, c.key, data)
	c.l.Debug("snapshot put",
		log.String("key", c.key),
		log.Int("dataLen", len(data)),
		log.Uint64("rev", rev),
		log.ErrorField(err))
	return err
}

func (c *SnapshotCache) Latest(ctx context.Context) (*model.Snapshot, error) {
	entry, err := c.kv.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ret := model.NewSnapshot()
	if err := json.Unmarshal(entry.Value(), ret); err != nil {
		return nil, err
	}
	return ret, nil
}
