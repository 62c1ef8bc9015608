package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/DefiantLabs/ledger-sync/pkg/model"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultEventsChannel = "pub/ledger-events"
	maxEventsCacheSize   = 50
	eventsKey            = "c/latest_events"
	healthKey            = "c/health"
)

type EventsCache interface {
	PublishEvent(ctx context.Context, envelope *model.EventEnvelope) error
	AddEvent(ctx context.Context, envelope *model.EventEnvelope) error
	GetEvents(ctx context.Context, start, stop int64) ([]*model.EventEnvelope, error)
}

type HealthCache interface {
	SetHealth(ctx context.Context, health *model.Health, ttl time.Duration) error
	GetHealth(ctx context.Context) (*model.Health, error)
}

type Cache struct {
	rdb     *redis.Client
	channel string
}

func NewCache(rdb *redis.Client, channel string) *Cache {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &Cache{
		rdb:     rdb,
		channel: channel,
	}
}

func (s *Cache) PublishEvent(ctx context.Context, envelope *model.EventEnvelope) error {
	res, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	return s.rdb.Publish(ctx, s.channel, res).Err()
}

func (s *Cache) AddEvent(ctx context.Context, envelope *model.EventEnvelope) error {
	res, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if err := s.rdb.LPush(ctx, eventsKey, string(res)).Err(); err != nil {
		return err
	}

	if err := s.rdb.LTrim(ctx, eventsKey, 0, maxEventsCacheSize).Err(); err != nil {
		return err
	}

	return nil
}

func (s *Cache) GetEvents(ctx context.Context, start, stop int64) ([]*model.EventEnvelope, error) {
	if stop > maxEventsCacheSize {
		stop = maxEventsCacheSize
	}
	res, err := s.rdb.LRange(ctx, eventsKey, start, stop).Result()
	if err != nil {
		return nil, err
	}

	var envelopes []*model.EventEnvelope
	for _, r := range res {
		var e model.EventEnvelope
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, err
		}
		envelopes = append(envelopes, &e)
	}

	return envelopes, nil
}

func (s *Cache) SetHealth(ctx context.Context, health *model.Health, ttl time.Duration) error {
	res, err := json.Marshal(health)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, healthKey, res, ttl).Err()
}

// GetHealth returns nil when no snapshot is cached.
func (s *Cache) GetHealth(ctx context.Context) (*model.Health, error) {
	res, err := s.rdb.Get(ctx, healthKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var health model.Health
	if err := json.Unmarshal(res, &health); err != nil {
		return nil, err
	}
	return &health, nil
}
