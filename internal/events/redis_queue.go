package events

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisTLSConfig controls TLS behaviour for Redis connections.
type RedisTLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// RedisQueueConfig configures the Redis-backed event queue implementation.
type RedisQueueConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	Channel      string
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Buffer       int
	PoolSize     int
	MasterName   string
	TLS          RedisTLSConfig
}

// NewRedisQueue initialises a queue backed by Redis pub/sub. Every subscriber
// sees every event, matching the fire-and-forget fan-out contract; events
// published while a subscriber is disconnected are lost, which consumers must
// already tolerate.
func NewRedisQueue(cfg RedisQueueConfig) (Queue, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "loopcast:events"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	queue := &redisQueue{
		client:  client,
		channel: channel,
		logger:  cfg.Logger,
		buffer:  cfg.Buffer,
	}
	if queue.logger == nil {
		queue.logger = slog.Default()
	}
	return queue, nil
}

type redisQueue struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
	buffer  int
}

func (q *redisQueue) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return q.client.Publish(ctx, q.channel, payload).Err()
}

func (q *redisQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := q.client.Subscribe(ctx, q.channel)
	sub := &redisSubscription{
		queue:  q,
		pubsub: pubsub,
		cancel: cancel,
		ch:     make(chan Event, q.buffer),
	}
	go sub.run(ctx)
	return sub
}

type redisSubscription struct {
	queue  *redisQueue
	pubsub *redis.PubSub
	cancel context.CancelFunc

	once sync.Once
	ch   chan Event
}

func (s *redisSubscription) Events() <-chan Event {
	return s.ch
}

// Close stops the Redis listener. Only the reader goroutine closes the event
// channel, on its way out, so a delivery in flight can never race the close.
func (s *redisSubscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if err := s.pubsub.Close(); err != nil && s.queue.logger != nil {
			s.queue.logger.Warn("redis pubsub close failed", "error", err)
		}
	})
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	defer s.Close()
	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				if s.queue.logger != nil {
					s.queue.logger.Error("redis event decode failed", "error", err)
				}
				continue
			}
			select {
			case s.ch <- event:
			case <-ctx.Done():
				return
			default:
				// Drop on backpressure, same policy as the memory queue.
			}
		}
	}
}

func buildTLSConfig(cfg RedisTLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		caPath := filepath.Clean(cfg.CAFile)
		pemData, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		certPath := filepath.Clean(cfg.CertFile)
		keyPath := filepath.Clean(cfg.KeyFile)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
