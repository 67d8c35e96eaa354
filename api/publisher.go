package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasklist/domain"
)

const (
	defaultPublishBuffer  = 256
	defaultPublishTimeout = 5 * time.Second
)

// RedisPublisher forwards store changes to a Redis pub/sub channel. Notify
// only hands the encoded change to a buffered queue; a single worker
// publishes in order. Changes are dropped when the queue is full.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	logger  *log.Logger

	mu      sync.RWMutex
	closed  bool
	jobs    chan []byte
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewRedisPublisher starts the publishing worker.
func NewRedisPublisher(client *redis.Client, channel string, buffer int, timeout time.Duration, logger *log.Logger) *RedisPublisher {
	if client == nil {
		panic("api.NewRedisPublisher: client is nil")
	}
	if logger == nil {
		panic("logger is required")
	}
	if buffer <= 0 {
		buffer = defaultPublishBuffer
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	p := &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: timeout,
		logger:  logger,
		jobs:    make(chan []byte, buffer),
	}
	p.wg.Add(1)
	go p.worker()
	logger.Infof("change publisher started, channel: %s, buffer: %d, timeout: %v", channel, buffer, timeout)
	return p
}

func (p *RedisPublisher) Notify(_ context.Context, ch domain.Change) {
	data, err := encodeChange(ch)
	if err != nil {
		p.logger.WithError(err).WithField("type", ch.Type).Error("failed to encode change")
		return
	}
	if !p.tryEnqueue(data) {
		n := p.dropped.Add(1)
		p.logger.WithFields(log.Fields{"type": ch.Type, "dropped": n}).Warn("change publisher saturated; dropping change")
	}
}

// Dropped reports how many changes were discarded.
func (p *RedisPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close stops accepting changes and waits for queued ones to be published.
func (p *RedisPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *RedisPublisher) tryEnqueue(data []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- data:
		return true
	default:
		return false
	}
}

func (p *RedisPublisher) worker() {
	defer p.wg.Done()
	for data := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.client.Publish(ctx, p.channel, data).Err()
		cancel()
		if err != nil {
			p.logger.Errorf("publish failed, err: %v, channel: %s", err, p.channel)
		}
	}
}
