package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultLeaseTTL is used when AcquireLease is given a non-positive TTL.
const DefaultLeaseTTL = 30 * time.Second

// ErrLeaseHeld is returned when another process already owns the writer lease
// for a slot.
var ErrLeaseHeld = errors.New("writer lease is held by another process")

var (
	renewLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Lease makes one process the only writer of a shared slot. Every process
// keeps its own in-memory collection and saves it whole, so two writers would
// overwrite each other's tasks.
type Lease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
	logger *log.Logger

	stop     chan struct{}
	done     chan struct{}
	lost     chan struct{}
	lostOnce sync.Once
	stopOnce sync.Once
}

// AcquireLease claims the writer lease for slotKey and renews it in the
// background until Release is called. It fails with ErrLeaseHeld when another
// process owns it.
func AcquireLease(ctx context.Context, client *redis.Client, slotKey string, ttl time.Duration, logger *log.Logger) (*Lease, error) {
	if client == nil {
		return nil, errors.New("storage.AcquireLease: redis client is nil")
	}
	if slotKey == "" {
		slotKey = DefaultSlotKey
	}
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	l := &Lease{
		client: client,
		key:    leaseKey(slotKey),
		owner:  uuid.NewString(),
		ttl:    ttl,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}
	ok, err := client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", l.key, unavailable(err))
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, l.key)
	}
	logger.WithField("lease", l.key).Info("writer lease acquired")
	go l.keepAlive()
	return l, nil
}

// Lost is closed when the lease could not be renewed. The holder must stop
// writing once it fires.
func (l *Lease) Lost() <-chan struct{} {
	return l.lost
}

// Release stops renewal and deletes the lease if this process still owns it.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
	if err := releaseLease.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

func (l *Lease) keepAlive() {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	renewed := time.Now()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
		n, err := renewLease.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			l.logger.WithError(err).WithField("lease", l.key).Warn("lease renewal failed")
			if time.Since(renewed) >= l.ttl {
				l.markLost()
				return
			}
		case n == 0:
			l.logger.WithField("lease", l.key).Error("writer lease taken over")
			l.markLost()
			return
		default:
			renewed = time.Now()
		}
	}
}

func (l *Lease) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

func leaseKey(slotKey string) string {
	return "lease:" + slotKey
}
