// Package store publishes settlement events to shared infrastructure.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"oracle-go/internal/paper"
)

const (
	defaultTimeout = 2 * time.Second
	defaultKeep    = 50
)

// RedisConfig points the publisher at a Redis instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Publisher fans settlements out over Redis pub/sub and keeps the running
// statistics and a capped trade list under keys derived from the channel.
type Publisher struct {
	client     *redis.Client
	channel    string
	statsKey   string
	historyKey string
	keep       int64
	timeout    time.Duration
}

// Event is the pub/sub payload for one settlement.
type Event struct {
	Trade paper.TradeRecord `json:"trade"`
	Stats paper.Stats       `json:"stats"`
}

// NewPublisher connects and pings Redis.
func NewPublisher(cfg RedisConfig) (*Publisher, error) {
	if cfg.Channel == "" {
		cfg.Channel = "oracle:settlements"
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Publisher{
		client:     client,
		channel:    cfg.Channel,
		statsKey:   cfg.Channel + ":stats",
		historyKey: cfg.Channel + ":history",
		keep:       defaultKeep,
		timeout:    defaultTimeout,
	}, nil
}

// Encode renders the pub/sub payload for rec.
func Encode(rec paper.TradeRecord, stats paper.Stats) ([]byte, error) {
	return sonic.Marshal(Event{Trade: rec, Stats: stats})
}

// Record implements paper.TradeRecorder.
func (p *Publisher) Record(rec paper.TradeRecord, stats paper.Stats) error {
	payload, err := Encode(rec, stats)
	if err != nil {
		return fmt.Errorf("encode settlement %s: %w", rec.ID, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		pipe.HSet(ctx, p.statsKey,
			"total", stats.Total,
			"wins", stats.Wins,
			"losses", stats.Losses,
			"total_pl", stats.TotalPL,
		)
		pipe.LPush(ctx, p.historyKey, payload)
		pipe.LTrim(ctx, p.historyKey, 0, p.keep-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", rec.ID, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Publisher) Close() error {
	return p.client.Close()
}
