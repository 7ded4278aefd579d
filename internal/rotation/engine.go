// Package rotation advances a time-bucketed index group by one step per call.
//
// The engine keeps no state between calls: the members of the roll alias are
// the group. A failed call leaves already-applied alias changes in place and
// the next call converges from whatever it finds.
package rotation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/logger"
	"github.com/stackvista/stackstate-index-cli/internal/naming"
)

// Admin is the subset of the gateway the engine mutates the cluster through.
type Admin interface {
	CreateIndex(ctx context.Context, name string, body []byte) error
	DeleteIndex(ctx context.Context, name string) error
	CloseIndex(ctx context.Context, name string) error
	AddAlias(ctx context.Context, index, alias string) error
	RemoveAlias(ctx context.Context, index, alias string) error
	MoveAlias(ctx context.Context, oldIndex, newIndex, alias string) error
	UpdateAliases(ctx context.Context, actions []gateway.AliasAction) error
	AliasMembers(ctx context.Context, alias string) (map[string]gateway.AliasMetadata, error)
	ConcreteIndices(ctx context.Context, names []string) ([]string, error)
}

// Request describes one rotation of base.
type Request struct {
	Base string
	// RetainTotal is how many indices keep the roll alias, the new one included.
	RetainTotal int
	// RetainSearch is how many indices keep the search alias, the new one included.
	RetainSearch int
	// DeleteOnExpire deletes aged-out indices instead of closing them.
	DeleteOnExpire bool
	// IndexBody is the create-index body of the new index. Empty means cluster defaults.
	IndexBody []byte
}

// Result reports what a rotation changed.
type Result struct {
	Created      string
	PriorFeed    string
	Deleted      []string
	Closed       []string
	RemovedAlias []string
}

// Fields returns the result as space-joined lists keyed like the rotate response.
func (r *Result) Fields() map[string]string {
	return map[string]string{
		"created":      r.Created,
		"deleted":      strings.Join(r.Deleted, " "),
		"closed":       strings.Join(r.Closed, " "),
		"removedAlias": strings.Join(r.RemovedAlias, " "),
	}
}

// Engine performs rotations.
type Engine struct {
	admin    Admin
	locker   Locker
	resolver naming.Resolver
	now      func() time.Time
	log      *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used to name new indices.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithResolver sets alias suffixes and timestamp layout.
func WithResolver(r naming.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an engine. A Locker is required: ticks on one base must
// never overlap.
func NewEngine(admin Admin, locker Locker, opts ...Option) (*Engine, error) {
	if admin == nil {
		return nil, fault.Configf("new rotation engine", "gateway is required")
	}
	if locker == nil {
		return nil, fault.Configf("new rotation engine", "locker is required")
	}
	e := &Engine{
		admin:    admin,
		locker:   locker,
		resolver: naming.NewResolver(),
		now:      time.Now,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.resolver.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Resolver returns the naming rules of the engine.
func (e *Engine) Resolver() naming.Resolver {
	return e.resolver
}

func (e *Engine) validate(req Request) error {
	if req.Base == "" {
		return fault.Configf("rotate", "base name is required")
	}
	if req.RetainTotal < 1 || req.RetainSearch < 1 {
		return fault.Configf("rotate", "retained indices and search indices must be at least 1, got %d and %d",
			req.RetainTotal, req.RetainSearch)
	}
	if len(req.IndexBody) > 0 && !json.Valid(req.IndexBody) {
		return fault.Configf("rotate", "index body is not valid JSON")
	}
	if req.RetainSearch > req.RetainTotal {
		e.log.Warningf("search indices (%d) exceed retained indices (%d); search is capped by retention",
			req.RetainSearch, req.RetainTotal)
	}
	return nil
}

// Rotate creates a new index for req.Base, moves the feed alias to it and ages
// out the oldest members. The lock for req.Base is held for the whole call.
func (e *Engine) Rotate(ctx context.Context, req Request) (*Result, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	unlock, err := e.locker.Lock(ctx, req.Base)
	if err != nil {
		return nil, fmt.Errorf("failed to lock rotation of %s: %w", req.Base, err)
	}
	defer func() {
		if err := unlock(); err != nil {
			e.log.Warningf("failed to release rotation lock of %s: %v", req.Base, err)
		}
	}()

	return e.rotate(ctx, req)
}

// state is everything read from the cluster before the first mutation.
type state struct {
	window  []naming.Dated
	search  map[string]gateway.AliasMetadata
	feed    map[string]gateway.AliasMetadata
	newName string
}

func (e *Engine) load(ctx context.Context, req Request) (*state, error) {
	rollAlias := e.resolver.Roll(req.Base)
	members, err := e.admin.AliasMembers(ctx, rollAlias)
	if err != nil {
		return nil, fmt.Errorf("failed to read members of %s: %w", rollAlias, err)
	}
	search, err := e.admin.AliasMembers(ctx, e.resolver.Search(req.Base))
	if err != nil {
		return nil, fmt.Errorf("failed to read members of %s: %w", e.resolver.Search(req.Base), err)
	}
	feed, err := e.admin.AliasMembers(ctx, e.resolver.Feed(req.Base))
	if err != nil {
		return nil, fmt.Errorf("failed to read members of %s: %w", e.resolver.Feed(req.Base), err)
	}

	var concrete []string
	if len(members) > 0 {
		names := make([]string, 0, len(members))
		for name := range members {
			names = append(names, name)
		}
		sort.Strings(names)
		concrete, err = e.admin.ConcreteIndices(ctx, names)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve members of %s: %w", rollAlias, err)
		}
	}

	window, err := e.resolver.SortDescending(req.Base, concrete)
	if err != nil {
		return nil, err
	}

	newName := e.resolver.IndexName(req.Base, e.now())
	newTime, err := e.resolver.ParseTimestamp(req.Base, newName)
	if err != nil {
		return nil, err
	}
	for _, d := range window {
		if d.Time.Equal(newTime) {
			return nil, fault.Configf("rotate", "index %s already belongs to %s; rotations must be further apart than the timestamp layout",
				d.Name, rollAlias)
		}
	}

	return &state{window: window, search: search, feed: feed, newName: newName}, nil
}

func (e *Engine) rotate(ctx context.Context, req Request) (*Result, error) {
	st, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}

	rollAlias := e.resolver.Roll(req.Base)
	searchAlias := e.resolver.Search(req.Base)
	feedAlias := e.resolver.Feed(req.Base)
	res := &Result{Created: st.newName}

	if err := e.admin.CreateIndex(ctx, st.newName, req.IndexBody); err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", st.newName, err)
	}
	e.log.Debugf("created index %s", st.newName)
	if err := e.admin.AddAlias(ctx, st.newName, searchAlias); err != nil {
		return res, fmt.Errorf("failed to add %s to %s: %w", searchAlias, st.newName, err)
	}
	if err := e.admin.AddAlias(ctx, st.newName, rollAlias); err != nil {
		return res, fmt.Errorf("failed to add %s to %s: %w", rollAlias, st.newName, err)
	}

	gone := make(map[string]bool)
	counter := 1
	for _, d := range st.window {
		if counter >= req.RetainTotal {
			if err := e.expire(ctx, req, st, d.Name, res); err != nil {
				return res, err
			}
			gone[d.Name] = true
			continue
		}
		if counter == 1 {
			res.PriorFeed = d.Name
		}
		if counter >= req.RetainSearch {
			if _, ok := st.search[d.Name]; ok {
				if err := e.admin.RemoveAlias(ctx, d.Name, searchAlias); err != nil {
					return res, fmt.Errorf("failed to remove %s from %s: %w", searchAlias, d.Name, err)
				}
				res.RemovedAlias = append(res.RemovedAlias, d.Name)
			}
		}
		counter++
	}

	if feedAlias == searchAlias {
		return res, nil
	}
	if err := e.moveFeed(ctx, st, feedAlias, gone); err != nil {
		return res, err
	}
	return res, nil
}

// expire deletes or closes an index that fell out of the retention window.
// Before closing, every role alias it holds is removed.
func (e *Engine) expire(ctx context.Context, req Request, st *state, name string, res *Result) error {
	if req.DeleteOnExpire {
		if err := e.admin.DeleteIndex(ctx, name); err != nil {
			return fmt.Errorf("failed to delete index %s: %w", name, err)
		}
		res.Deleted = append(res.Deleted, name)
		e.log.Debugf("deleted index %s", name)
		return nil
	}

	aliases := []string{e.resolver.Roll(req.Base)}
	if _, ok := st.search[name]; ok {
		aliases = append(aliases, e.resolver.Search(req.Base))
	}
	if _, ok := st.feed[name]; ok && e.resolver.Feed(req.Base) != e.resolver.Search(req.Base) {
		aliases = append(aliases, e.resolver.Feed(req.Base))
	}
	for _, alias := range aliases {
		if err := e.admin.RemoveAlias(ctx, name, alias); err != nil {
			return fmt.Errorf("failed to remove %s from %s: %w", alias, name, err)
		}
		res.RemovedAlias = append(res.RemovedAlias, name)
	}
	if err := e.admin.CloseIndex(ctx, name); err != nil {
		return fmt.Errorf("failed to close index %s: %w", name, err)
	}
	res.Closed = append(res.Closed, name)
	e.log.Debugf("closed index %s", name)
	return nil
}

// moveFeed points the feed alias at the new index only. Holders left by an
// aborted rotation are all released in the same request.
func (e *Engine) moveFeed(ctx context.Context, st *state, feedAlias string, gone map[string]bool) error {
	var holders []string
	for name := range st.feed {
		if !gone[name] && name != st.newName {
			holders = append(holders, name)
		}
	}
	sort.Strings(holders)

	switch len(holders) {
	case 0:
		if err := e.admin.AddAlias(ctx, st.newName, feedAlias); err != nil {
			return fmt.Errorf("failed to add %s to %s: %w", feedAlias, st.newName, err)
		}
	case 1:
		if err := e.admin.MoveAlias(ctx, holders[0], st.newName, feedAlias); err != nil {
			return fmt.Errorf("failed to move %s from %s to %s: %w", feedAlias, holders[0], st.newName, err)
		}
	default:
		e.log.Warningf("%s is held by %d indices, releasing all of them", feedAlias, len(holders))
		actions := []gateway.AliasAction{{Op: gateway.AliasAdd, Index: st.newName, Alias: feedAlias}}
		for _, h := range holders {
			actions = append(actions, gateway.AliasAction{Op: gateway.AliasRemove, Index: h, Alias: feedAlias})
		}
		if err := e.admin.UpdateAliases(ctx, actions); err != nil {
			return fmt.Errorf("failed to move %s to %s: %w", feedAlias, st.newName, err)
		}
	}
	return nil
}
