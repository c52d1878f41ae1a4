// Package archive persists sweep recordings to Redis and announces each
// store to subscribers
package archive

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/picolab/sweep"
)

const (
	defaultList    = "picolab:sweeps"
	defaultChannel = "picolab:announce"
	defaultDepth   = 100
)

// Config holds connection and retention settings for an Archiver
type Config struct {
	// Addr is the host:port of the Redis server
	Addr string `yaml:"Addr"`

	// Password is the server password, empty for none
	Password string `yaml:"Password"`

	// DB is the database number
	DB int `yaml:"DB"`

	// List is the key recordings are pushed onto
	List string `yaml:"List"`

	// Channel is the pub/sub channel stores are announced on
	Channel string `yaml:"Channel"`

	// Depth is how many recordings the list retains
	Depth int64 `yaml:"Depth"`
}

// Archiver stores recordings on a Redis list, trimmed to a retention
// depth, and announces each store on a pub/sub channel
type Archiver struct {
	client  *redis.Client
	list    string
	channel string
	depth   int64
	log     logrus.FieldLogger
}

// NewFromClient wraps an existing Redis client, applying retention
// defaults for any unset Config field
func NewFromClient(client *redis.Client, cfg Config) *Archiver {
	a := &Archiver{
		client:  client,
		list:    cfg.List,
		channel: cfg.Channel,
		depth:   cfg.Depth}
	if a.list == "" {
		a.list = defaultList
	}
	if a.channel == "" {
		a.channel = defaultChannel
	}
	if a.depth <= 0 {
		a.depth = defaultDepth
	}
	return a
}

// New dials Redis per cfg and verifies the server answers
func New(cfg Config) (*Archiver, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a := NewFromClient(client, cfg)
	if err := a.Ping(context.Background()); err != nil {
		return nil, err
	}
	return a, nil
}

// SetLogger attaches a structured sink for store notices.  nil disables
// logging.
func (a *Archiver) SetLogger(log logrus.FieldLogger) {
	a.log = log
}

// Ping verifies the server answers
func (a *Archiver) Ping(ctx context.Context) error {
	return errors.Wrap(a.client.Ping(ctx).Err(), "pinging redis")
}

// Close releases the client's connections
func (a *Archiver) Close() error {
	return a.client.Close()
}

// Store pushes the recording onto the archive list, trims the list to the
// retention depth, and announces the store
func (a *Archiver) Store(ctx context.Context, rec sweep.Recording) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshaling recording")
	}
	if err := a.client.LPush(ctx, a.list, blob).Err(); err != nil {
		return errors.Wrap(err, "pushing recording onto the archive list")
	}
	if err := a.client.LTrim(ctx, a.list, 0, a.depth-1).Err(); err != nil {
		return errors.Wrap(err, "trimming the archive list")
	}
	if err := a.client.Publish(ctx, a.channel, blob).Err(); err != nil {
		return errors.Wrap(err, "announcing the stored recording")
	}
	if a.log != nil {
		a.log.WithFields(logrus.Fields{
			"list":   a.list,
			"points": rec.Len()}).Info("archived recording")
	}
	return nil
}

// Recent returns up to n of the most recently stored recordings, newest
// first
func (a *Archiver) Recent(ctx context.Context, n int64) ([]sweep.Recording, error) {
	blobs, err := a.client.LRange(ctx, a.list, 0, n-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "reading the archive list")
	}
	out := make([]sweep.Recording, 0, len(blobs))
	for _, b := range blobs {
		var rec sweep.Recording
		if err := json.Unmarshal([]byte(b), &rec); err != nil {
			return out, errors.Wrap(err, "decoding an archived recording")
		}
		out = append(out, rec)
	}
	return out, nil
}
