package table

import (
	"context"
	"errors"
	"time"

	"github.com/akmistry/tablemeta/internal/backoff"
	"github.com/akmistry/tablemeta/internal/metadata"
	"github.com/akmistry/tablemeta/internal/metrics"
	"github.com/akmistry/tablemeta/internal/util"
)

// NoRetries as RetryOptions.Retries makes CommitWithRetry give up after the
// first conflict.
const NoRetries = -1

// RetryOptions bounds CommitWithRetry. Zero fields take their value from the
// table's commit.retry.* properties.
type RetryOptions struct {
	// Retries after the first attempt. Any negative value means none.
	Retries int
	MinWait time.Duration
	MaxWait time.Duration
}

func (r RetryOptions) withDefaults(m *metadata.TableMetadata) RetryOptions {
	util.SetDefaultIfZero(&r.Retries,
		m.PropertyInt(metadata.PropCommitNumRetries, metadata.DefaultCommitNumRetries))
	util.SetDefaultIfZero(&r.MinWait, time.Duration(
		m.PropertyInt(metadata.PropCommitMinWaitMS, metadata.DefaultCommitMinWaitMS))*time.Millisecond)
	util.SetDefaultIfZero(&r.MaxWait, time.Duration(
		m.PropertyInt(metadata.PropCommitMaxWaitMS, metadata.DefaultCommitMaxWaitMS))*time.Millisecond)
	return r
}

// UpdateFunc derives new metadata from base. It may be called more than once
// and must not have side effects outside the returned value.
type UpdateFunc func(base *metadata.TableMetadata) (*metadata.TableMetadata, error)

// CommitWithRetry applies update to the current metadata and commits it,
// refreshing and re-applying update after each commit conflict. Other errors
// are returned immediately. It returns the committed metadata.
func CommitWithRetry(ctx context.Context, o *Operations, update UpdateFunc, opts RetryOptions) (*metadata.TableMetadata, error) {
	base := o.Current()
	if base == nil {
		var err error
		base, err = o.Refresh(ctx)
		if err != nil {
			return nil, err
		}
	}
	opts = opts.withDefaults(base)

	for attempt := 0; ; attempt++ {
		next, err := update(base)
		if err != nil {
			return nil, err
		}
		err = o.Commit(ctx, base, next)
		if err == nil {
			return o.Current(), nil
		}
		if !errors.Is(err, ErrCommitConflict) || attempt >= opts.Retries {
			return nil, err
		}

		delay := backoff.Jitter(attempt, opts.MinWait, opts.MaxWait)
		o.logger.Debug("retrying commit", "attempt", attempt+1, "delay", delay, "error", err)
		metrics.CommitRetries.Inc()
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		base, err = o.Refresh(ctx)
		if err != nil {
			return nil, err
		}
	}
}
