package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	id "caregov/pkg/domain"
	dErrors "caregov/pkg/domain-errors"
	txcontext "caregov/pkg/platform/tx"
)

// ConsentStoreTx provides a transactional boundary for consent mutations.
// Implementations wrap a database transaction or, in memory, a lock.
type ConsentStoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// numConsentShards spreads subjects over independent locks so grants for
// different subjects do not contend.
const numConsentShards = 128

const defaultConsentTxTimeout = 5 * time.Second

type shardedConsentTx struct {
	shards  [numConsentShards]sync.Mutex
	store   Store
	timeout time.Duration
}

// NewShardedTx serializes mutations per subject over an in-memory store.
func NewShardedTx(store Store, timeout time.Duration) ConsentStoreTx {
	return &shardedConsentTx{store: store, timeout: timeout}
}

func (t *shardedConsentTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultConsentTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx, t.store)
}

// sqlConsentTx runs mutations in a database transaction. The store joins it
// through the context.
type sqlConsentTx struct {
	runner txcontext.Runner
	store  Store
}

// NewSQLTx runs consent mutations through runner.
func NewSQLTx(runner txcontext.Runner, store Store) ConsentStoreTx {
	return &sqlConsentTx{runner: runner, store: store}
}

func (t *sqlConsentTx) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	return t.runner.RunInTx(ctx, func(ctx context.Context) error {
		return fn(ctx, t.store)
	})
}

type txSubjectKey struct{}

// withTxSubject routes the transaction to the subject's shard.
func withTxSubject(ctx context.Context, subject id.RecordID) context.Context {
	return context.WithValue(ctx, txSubjectKey{}, subject)
}

func selectShard(ctx context.Context) int {
	subject, ok := ctx.Value(txSubjectKey{}).(id.RecordID)
	if !ok || subject.IsNil() {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(subject[:])
	return int(h.Sum32() % numConsentShards)
}
