package reindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/scroll"
)

// clearTimeout bounds the best-effort scroll release after a run.
const clearTimeout = 10 * time.Second

// Job copies the documents of one index/type pair.
type Job struct {
	Source      scroll.Source
	SourceIndex string
	// SourceType is the mapping type to read; empty reads all types.
	SourceType string
	Filter     json.RawMessage
	PageSize   int
	KeepAlive  time.Duration
	// Options.Index and Options.Type default to the source index and type.
	Options Options
}

func (j Job) destination() Options {
	opts := j.Options
	if opts.Index == "" {
		opts.Index = j.SourceIndex
	}
	if opts.Type == "" {
		opts.Type = j.SourceType
	}
	return opts
}

// Run opens a scroll for job and migrates it. The scroll is always released.
func (m *Migrator) Run(ctx context.Context, job Job) (*Outcome, error) {
	opts := job.destination()
	cursor, err := scroll.Open(ctx, job.Source, gateway.ScrollRequest{
		Index:       job.SourceIndex,
		Type:        job.SourceType,
		Filter:      job.Filter,
		PageSize:    job.PageSize,
		WithVersion: opts.WithVersion,
		KeepAlive:   job.KeepAlive,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
		defer cancel()
		if err := cursor.Close(clearCtx); err != nil {
			m.log.Debugf("scroll on %s left to expire: %v", job.SourceIndex, err)
		}
	}()

	m.log.Infof("Copying %d documents from %s into %s", cursor.Total(), pairName(job.SourceIndex, job.SourceType), opts.Index)
	out, err := m.Migrate(ctx, cursor, opts)
	if err != nil {
		return out, fmt.Errorf("migration of %s failed: %w", pairName(job.SourceIndex, job.SourceType), err)
	}
	return out, nil
}

func pairName(index, docType string) string {
	if docType == "" || docType == gateway.DocType {
		return index
	}
	return index + "/" + docType
}
