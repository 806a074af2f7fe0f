// Package lock serializes mutating migration runs across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/metrics"
)

// Locker hands out exclusive leases on a key.
type Locker interface {
	// Acquire blocks until the lease on key is held or ctx is done.
	Acquire(ctx context.Context, key string) (Lease, error)
	Close() error
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Key returns the lock key for runs against connection and schema.
func Key(connection, schema string) string {
	if schema == "" {
		return connection
	}
	return connection + "/" + schema
}

// Noop is a Locker for single-process deployments; Acquire never blocks.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (Lease, error) { return noopLease{}, nil }
func (Noop) Close() error                                   { return nil }

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }

// EtcdConfig configures an etcd-backed Locker.
type EtcdConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	Prefix      string
	TTL         time.Duration
}

// Etcd implements Locker with etcd concurrency mutexes. Each lease owns a
// session, so a crashed holder loses the lock when its TTL expires.
type Etcd struct {
	client *clientv3.Client
	prefix string
	ttl    int
}

// NewEtcd connects to etcd.
func NewEtcd(cfg EtcdConfig) (*Etcd, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd lock: no endpoints")
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return newEtcd(client, cfg.Prefix, cfg.TTL), nil
}

func newEtcd(client *clientv3.Client, prefix string, ttl time.Duration) *Etcd {
	if prefix == "" {
		prefix = "/psm/locks/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	seconds := int(ttl / time.Second)
	if seconds <= 0 {
		seconds = 60
	}
	return &Etcd{client: client, prefix: prefix, ttl: seconds}
}

// Acquire implements Locker.
func (e *Etcd) Acquire(ctx context.Context, key string) (Lease, error) {
	done := metrics.InstrumentLockWait(key)
	defer done()

	session, err := concurrency.NewSession(e.client, concurrency.WithTTL(e.ttl), concurrency.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to open etcd session: %w", err)
	}
	mutex := concurrency.NewMutex(session, e.prefix+key)
	if err := mutex.Lock(ctx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", key, err)
	}
	logger.Debugf("Acquired migration lock %s", mutex.Key())
	return &etcdLease{session: session, mutex: mutex}, nil
}

// Close closes the etcd client.
func (e *Etcd) Close() error {
	return e.client.Close()
}

type etcdLease struct {
	once    sync.Once
	session *concurrency.Session
	mutex   *concurrency.Mutex
	err     error
}

func (l *etcdLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if err := l.mutex.Unlock(ctx); err != nil {
			l.err = fmt.Errorf("failed to unlock %s: %w", l.mutex.Key(), err)
		}
		if err := l.session.Close(); err != nil && l.err == nil {
			l.err = fmt.Errorf("failed to close etcd session: %w", err)
		}
	})
	return l.err
}

// Local is an in-process Locker keyed by name, used when several runs share
// one process and no etcd cluster is configured.
type Local struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]chan struct{})}
}

func (l *Local) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return &localLease{ch: ch}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to lock %s: %w", key, ctx.Err())
	}
}

// Close implements Locker.
func (l *Local) Close() error { return nil }

type localLease struct {
	once sync.Once
	ch   chan struct{}
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() { <-l.ch })
	return nil
}
