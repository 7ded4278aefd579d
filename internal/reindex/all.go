package reindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/scroll"
)

// AllSelector matches every index or every mapping type.
const AllSelector = "_all"

// Pair is one index/type combination to refeed.
type Pair struct {
	Index string
	Type  string
}

func (p Pair) String() string {
	return pairName(p.Index, p.Type)
}

// Catalog lists indices and their mapping types.
type Catalog interface {
	ListIndices(ctx context.Context, pattern string) ([]string, error)
	GetIndex(ctx context.Context, name string) (*gateway.IndexDefinition, error)
}

// ResolvePairs expands comma-separated index and type selectors, where "_all"
// means every index (hidden "." indices excluded) or every mapping type.
func ResolvePairs(ctx context.Context, catalog Catalog, indices, types string) ([]Pair, error) {
	if strings.TrimSpace(indices) == "" {
		indices = AllSelector
	}
	if strings.TrimSpace(types) == "" {
		types = AllSelector
	}

	names, err := catalog.ListIndices(ctx, indices)
	if err != nil {
		return nil, fmt.Errorf("failed to list indices %s: %w", indices, err)
	}

	var pairs []Pair
	for _, name := range names {
		if indices == AllSelector && strings.HasPrefix(name, ".") {
			continue
		}
		if types != AllSelector {
			for _, t := range splitList(types) {
				pairs = append(pairs, Pair{Index: name, Type: t})
			}
			continue
		}
		def, err := catalog.GetIndex(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read mapping types of %s: %w", name, err)
		}
		for _, t := range def.Types {
			pairs = append(pairs, Pair{Index: name, Type: t})
		}
	}
	return pairs, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// AllOptions controls an in-place refeed of many pairs.
type AllOptions struct {
	Filter      json.RawMessage
	PageSize    int
	KeepAlive   time.Duration
	Wait        time.Duration
	WithVersion bool
	// Workers bounds how many pairs run at once; each pair is sequential.
	Workers   int
	Transform TransformFunc
}

// RunAll refeeds every pair into itself. The first failing pair cancels the
// others; outcomes of pairs that finished are returned in pair order.
func (m *Migrator) RunAll(ctx context.Context, src scroll.Source, pairs []Pair, opts AllOptions) ([]*Outcome, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	outcomes := make([]*Outcome, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			worker := m.scoped(pair.String())
			out, err := worker.Run(gctx, Job{
				Source:      src,
				SourceIndex: pair.Index,
				SourceType:  pair.Type,
				Filter:      opts.Filter,
				PageSize:    opts.PageSize,
				KeepAlive:   opts.KeepAlive,
				Options: Options{
					WithVersion: opts.WithVersion,
					Wait:        opts.Wait,
					Transform:   opts.Transform,
				},
			})
			outcomes[i] = out
			return err
		})
	}
	err := g.Wait()

	finished := make([]*Outcome, 0, len(outcomes))
	for _, out := range outcomes {
		if out != nil {
			finished = append(finished, out)
		}
	}
	return finished, err
}

func (m *Migrator) scoped(prefix string) *Migrator {
	scoped := *m
	scoped.log = m.log.WithPrefix(prefix)
	return &scoped
}
