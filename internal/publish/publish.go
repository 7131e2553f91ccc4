// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 nephostat authors

// Package publish pushes decoded records to Redis for live consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mkndaq/nephostat/internal/config"
	"github.com/mkndaq/nephostat/pkg/acoem"
)

// HistoryLength is the number of messages kept per instrument list
const HistoryLength = 1000

// Message is the JSON form of one logged record
type Message struct {
	Instrument      string              `json:"instrument"`
	Timestamp       time.Time           `json:"timestamp"`
	LoggingInterval uint32              `json:"logging_interval"`
	Values          map[string]*float32 `json:"values"`
}

// NewMessage converts a record. Only float values are carried, keyed by
// parameter ID. NaN and infinite values have no JSON form and become null.
func NewMessage(instrument string, r acoem.LoggedRecord) Message {
	msg := Message{
		Instrument:      instrument,
		Timestamp:       r.Timestamp.UTC(),
		LoggingInterval: r.LoggingInterval,
		Values:          make(map[string]*float32, len(r.Values)),
	}
	for id, v := range r.Values {
		if !v.IsFloat {
			continue
		}
		key := strconv.FormatUint(uint64(id), 10)
		f := float64(v.Float)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			msg.Values[key] = nil
			continue
		}
		val := v.Float
		msg.Values[key] = &val
	}
	return msg
}

// ListKey returns the Redis list holding recent messages of an instrument
func ListKey(instrument string) string {
	return fmt.Sprintf("nephostat:%s:records", instrument)
}

// Publisher publishes records on a Redis channel and keeps a bounded
// history list per instrument.
type Publisher struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger
}

// NewPublisher connects to Redis and checks the connection
func NewPublisher(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	log.WithField("addr", cfg.Addr).Info("redis connected")

	return &Publisher{client: client, channel: cfg.Channel, log: log}, nil
}

// Encode marshals the records of instrument oldest first
func Encode(instrument string, records []acoem.LoggedRecord) ([][]byte, error) {
	sorted := append([]acoem.LoggedRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := make([][]byte, 0, len(sorted))
	for _, r := range sorted {
		data, err := json.Marshal(NewMessage(instrument, r))
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}

// Publish sends records in one pipeline
func (p *Publisher) Publish(ctx context.Context, instrument string, records []acoem.LoggedRecord) error {
	if len(records) == 0 {
		return nil
	}
	payloads, err := Encode(instrument, records)
	if err != nil {
		return err
	}

	key := ListKey(instrument)
	pipe := p.client.Pipeline()
	for _, data := range payloads {
		pipe.Publish(ctx, p.channel, data)
		pipe.LPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, 0, HistoryLength-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %d records: %w", len(payloads), err)
	}
	p.log.WithFields(logrus.Fields{"instrument": instrument, "records": len(payloads)}).Debug("published")
	return nil
}

// Close closes the Redis client
func (p *Publisher) Close() error {
	return p.client.Close()
}
