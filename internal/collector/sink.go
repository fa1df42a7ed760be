package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/serialx/hashring"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/packeteater/internal/config"
	"firestige.xyz/packeteater/internal/core"
)

// Sink publishes accepted envelopes to a queue backend.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e *Envelope) error
	Close() error
}

// NewSink builds the sink selected by cfg.Sink.
func NewSink(cfg config.CollectorConfig) (Sink, error) {
	switch strings.ToLower(cfg.Sink) {
	case "", "log":
		return LogSink{}, nil
	case "redis":
		return NewRedisSink(cfg.Redis)
	case "kafka":
		return NewKafkaSink(cfg.Kafka)
	default:
		return nil, fmt.Errorf("%w: unknown sink %q", core.ErrConfigInvalid, cfg.Sink)
	}
}

// LogSink writes envelopes to the debug log and keeps nothing.
type LogSink struct{}

// Name implements Sink.
func (LogSink) Name() string { return "log" }

// Publish implements Sink.
func (LogSink) Publish(_ context.Context, e *Envelope) error {
	slog.Debug("packet received",
		"request_id", e.RequestID,
		"submitter", shortID(e.Submitter),
		"packet", fmt.Sprintf("0x%03X", e.PacketID),
		"size", len(e.Data),
		"zone_id", e.ZoneID,
		"direction", e.Direction.String(),
		"origin", e.Origin.String(),
		"version", e.Version)
	return nil
}

// Close implements Sink.
func (LogSink) Close() error { return nil }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RedisSink appends msgpack envelopes to a Redis list. With several shards,
// each submitter is pinned to one list by consistent hashing so a consumer
// per list sees that submitter's packets in order.
type RedisSink struct {
	rdb  *redis.Client
	key  string
	ring *hashring.HashRing // nil with a single list
}

// NewRedisSink connects lazily to cfg.URL.
func NewRedisSink(cfg config.RedisSinkConfig) (*RedisSink, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", core.ErrConfigInvalid, err)
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: redis key is required", core.ErrConfigInvalid)
	}

	s := &RedisSink{rdb: redis.NewClient(opt), key: cfg.Key}
	if cfg.Shards > 1 {
		keys := make([]string, cfg.Shards)
		for i := range keys {
			keys[i] = cfg.Key + ":" + strconv.Itoa(i)
		}
		s.ring = hashring.New(keys)
	}
	return s, nil
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// KeyFor returns the list that receives the submitter's envelopes.
func (s *RedisSink) KeyFor(submitter string) string {
	if s.ring == nil {
		return s.key
	}
	if key, ok := s.ring.GetNode(submitter); ok {
		return key
	}
	return s.key
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, e *Envelope) error {
	b, err := e.Marshal()
	if err != nil {
		return err
	}
	key := s.KeyFor(e.Submitter)
	if err := s.rdb.RPush(ctx, key, b).Err(); err != nil {
		return fmt.Errorf("%w: redis rpush %s: %v", core.ErrSinkUnavailable, key, err)
	}
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error { return s.rdb.Close() }

// KafkaSink writes msgpack envelopes to a Kafka topic, keyed by submitter so
// one client's packets stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaSink creates a synchronous hash-balanced writer.
func NewKafkaSink(cfg config.KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers are required", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka topic is required", core.ErrConfigInvalid)
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{},
		CompressionCodec: codec,
		Async:            false,
	})
	return &KafkaSink{writer: w, topic: cfg.Topic}, nil
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	default:
		return nil, fmt.Errorf("%w: invalid kafka compression %q", core.ErrConfigInvalid, name)
	}
}

// Name implements Sink.
func (s *KafkaSink) Name() string { return "kafka" }

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, e *Envelope) error {
	msg, err := kafkaMessage(e)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: kafka write %s: %v", core.ErrSinkUnavailable, s.topic, err)
	}
	return nil
}

func kafkaMessage(e *Envelope) (kafka.Message, error) {
	b, err := e.Marshal()
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(e.Submitter),
		Value: b,
		Headers: []kafka.Header{
			{Key: "request_id", Value: []byte(e.RequestID)},
			{Key: "origin", Value: []byte(e.Origin.String())},
		},
	}, nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error { return s.writer.Close() }
