package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/logger"
)

// LockIndex holds one document per held rotation lock.
const LockIndex = ".sts-index-locks"

const (
	defaultLockTTL   = 10 * time.Minute
	defaultLockRetry = 2 * time.Second
)

// ClusterLock serializes rotations across processes sharing a cluster. A lock
// is a document created with op_type=create; a document past its expiry is
// removed with a sequence-number guarded delete before the next attempt.
type ClusterLock struct {
	client     *Client
	owner      string
	ttl        time.Duration
	retryDelay time.Duration
	now        func() time.Time
	log        *logger.Logger
}

// ClusterLockOption configures a ClusterLock.
type ClusterLockOption func(*ClusterLock)

// WithLockTTL bounds how long a lock of a crashed holder blocks others.
func WithLockTTL(ttl time.Duration) ClusterLockOption {
	return func(l *ClusterLock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockRetry sets the delay between acquisition attempts.
func WithLockRetry(d time.Duration) ClusterLockOption {
	return func(l *ClusterLock) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

// WithLockLogger sets the logger.
func WithLockLogger(log *logger.Logger) ClusterLockOption {
	return func(l *ClusterLock) { l.log = log }
}

// NewClusterLock creates a lock stored in the cluster behind client.
func NewClusterLock(client *Client, opts ...ClusterLockOption) *ClusterLock {
	hostname, _ := os.Hostname()
	l := &ClusterLock{
		client:     client,
		owner:      fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		ttl:        defaultLockTTL,
		retryDelay: defaultLockRetry,
		now:        time.Now,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type lockDoc struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Lock blocks until key is held or ctx is done.
func (l *ClusterLock) Lock(ctx context.Context, key string) (func() error, error) {
	for {
		version, acquired, err := l.tryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if acquired {
			return func() error { return l.release(context.WithoutCancel(ctx), key, version) }, nil
		}

		l.log.Debugf("Lock %s is held, retrying in %s", key, l.retryDelay)
		select {
		case <-ctx.Done():
			return nil, fault.Gateway("lock "+key, ctx.Err())
		case <-time.After(l.retryDelay):
		}
	}
}

// docVersion identifies one write of a lock document.
type docVersion struct {
	SeqNo       int `json:"_seq_no"`
	PrimaryTerm int `json:"_primary_term"`
}

func (l *ClusterLock) tryAcquire(ctx context.Context, key string) (docVersion, bool, error) {
	if err := l.cleanupExpired(ctx, key); err != nil {
		l.log.Debugf("Cleanup of lock %s failed: %v", key, err)
	}

	version, status, err := l.create(ctx, key)
	if err == nil && status == http.StatusNotFound {
		if err := l.ensureIndex(ctx); err != nil {
			return docVersion{}, false, err
		}
		version, status, err = l.create(ctx, key)
	}
	if err != nil {
		return docVersion{}, false, err
	}
	return version, status != http.StatusConflict && status != http.StatusNotFound, nil
}

// create returns the status code so a missing lock index can be told apart,
// and the version of the created document so release deletes only that write.
func (l *ClusterLock) create(ctx context.Context, key string) (docVersion, int, error) {
	now := l.now().UTC()
	body, err := json.Marshal(lockDoc{Owner: l.owner, AcquiredAt: now, ExpiresAt: now.Add(l.ttl)})
	if err != nil {
		return docVersion{}, 0, fmt.Errorf("failed to encode lock document: %w", err)
	}

	es := l.client.es
	res, err := es.Create(LockIndex, key, bytes.NewReader(body),
		es.Create.WithContext(ctx),
		es.Create.WithRefresh("true"),
	)
	if err != nil {
		return docVersion{}, 0, fault.Gateway("lock "+key, err)
	}
	if res.StatusCode == http.StatusConflict || res.StatusCode == http.StatusNotFound {
		drain(res)
		return docVersion{}, res.StatusCode, nil
	}
	if err := check("lock "+key, res, nil); err != nil {
		return docVersion{}, res.StatusCode, err
	}
	defer res.Body.Close()

	var version docVersion
	if err := json.NewDecoder(res.Body).Decode(&version); err != nil {
		return docVersion{}, res.StatusCode, fault.Gateway("lock "+key, fmt.Errorf("failed to decode lock response: %w", err))
	}
	return version, res.StatusCode, nil
}

func (l *ClusterLock) cleanupExpired(ctx context.Context, key string) error {
	es := l.client.es
	res, err := es.Get(LockIndex, key, es.Get.WithContext(ctx))
	if err != nil {
		return err
	}
	if res.StatusCode == http.StatusNotFound {
		drain(res)
		return nil
	}
	if err := check("read lock "+key, res, nil); err != nil {
		return err
	}
	defer res.Body.Close()

	var current struct {
		Found       bool    `json:"found"`
		SeqNo       int     `json:"_seq_no"`
		PrimaryTerm int     `json:"_primary_term"`
		Source      lockDoc `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&current); err != nil {
		return fmt.Errorf("failed to decode lock document: %w", err)
	}
	if !current.Found || !l.now().UTC().After(current.Source.ExpiresAt) {
		return nil
	}

	l.log.Warningf("Removing expired lock %s held by %s since %s",
		key, current.Source.Owner, current.Source.AcquiredAt.Format(time.RFC3339))
	del, err := es.Delete(LockIndex, key,
		es.Delete.WithContext(ctx),
		es.Delete.WithIfSeqNo(current.SeqNo),
		es.Delete.WithIfPrimaryTerm(current.PrimaryTerm),
		es.Delete.WithRefresh("true"),
	)
	if err != nil {
		return err
	}
	// A conflict means another process replaced or removed it first.
	drain(del)
	return nil
}

func (l *ClusterLock) ensureIndex(ctx context.Context) error {
	err := l.client.CreateIndex(ctx, LockIndex,
		[]byte(`{"settings":{"index.number_of_shards":1,"index.number_of_replicas":1}}`))
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest &&
		bytes.Contains([]byte(statusErr.Body), []byte("resource_already_exists_exception")) {
		return nil
	}
	return err
}

// release deletes the lock document only while it is still the write made by
// this holder. A lock taken over after expiry belongs to its new holder.
func (l *ClusterLock) release(ctx context.Context, key string, version docVersion) error {
	es := l.client.es
	res, err := es.Delete(LockIndex, key,
		es.Delete.WithContext(ctx),
		es.Delete.WithIfSeqNo(version.SeqNo),
		es.Delete.WithIfPrimaryTerm(version.PrimaryTerm),
		es.Delete.WithRefresh("true"),
	)
	if err != nil {
		return fault.Gateway("unlock "+key, err)
	}
	switch res.StatusCode {
	case http.StatusNotFound:
		drain(res)
		return nil
	case http.StatusConflict:
		drain(res)
		l.log.Warningf("Lock %s expired and was taken over by another process before it was released", key)
		return nil
	}
	if err := check("unlock "+key, res, nil); err != nil {
		return err
	}
	drain(res)
	return nil
}
