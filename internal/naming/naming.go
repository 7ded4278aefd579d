// Package naming derives alias and index names of a rotation group and
// parses the timestamps encoded in index names.
package naming

import (
	"sort"
	"strings"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
)

// DefaultLayout is minute precision, matching one rotation per minute at most.
const DefaultLayout = "2006-01-02-15-04"

// Suffixes are appended to the base name, separated by "_", to form role aliases.
// An empty suffix makes the role use the bare base name.
type Suffixes struct {
	Feed   string `yaml:"feed"`
	Search string `yaml:"search"`
	Roll   string `yaml:"roll" validate:"required"`
}

// DefaultSuffixes returns the feed/search/roll suffixes.
func DefaultSuffixes() Suffixes {
	return Suffixes{Feed: "feed", Search: "search", Roll: "roll"}
}

// Resolver maps a base name to role aliases and index names.
type Resolver struct {
	Suffixes Suffixes
	Layout   string
}

// NewResolver returns a resolver with default suffixes and layout.
func NewResolver() Resolver {
	return Resolver{Suffixes: DefaultSuffixes(), Layout: DefaultLayout}
}

// Dated is an index name with its parsed timestamp.
type Dated struct {
	Name string
	Time time.Time
}

func (r Resolver) layout() string {
	if r.Layout == "" {
		return DefaultLayout
	}
	return r.Layout
}

func qualify(base, suffix string) string {
	if suffix == "" {
		return base
	}
	return base + "_" + suffix
}

// Feed returns the write alias of base.
func (r Resolver) Feed(base string) string { return qualify(base, r.Suffixes.Feed) }

// Search returns the read alias of base.
func (r Resolver) Search(base string) string { return qualify(base, r.Suffixes.Search) }

// Roll returns the retention alias of base.
func (r Resolver) Roll(base string) string { return qualify(base, r.Suffixes.Roll) }

// Validate checks that the roll alias cannot collide with the base name.
func (r Resolver) Validate() error {
	if r.Suffixes.Roll == "" {
		return fault.Configf("naming", "roll suffix must not be empty")
	}
	return nil
}

// IndexName formats the index of base created at t (UTC).
func (r Resolver) IndexName(base string, t time.Time) string {
	return base + "_" + t.UTC().Format(r.layout())
}

// ParseTimestamp extracts the creation time from an index name of base.
func (r Resolver) ParseTimestamp(base, index string) (time.Time, error) {
	prefix := base + "_"
	if !strings.HasPrefix(index, prefix) {
		return time.Time{}, fault.Configf("parse index", "index %s does not start with %s", index, prefix)
	}
	t, err := time.ParseInLocation(r.layout(), strings.TrimPrefix(index, prefix), time.UTC)
	if err != nil {
		return time.Time{}, fault.Configf("parse index", "index %s has no %s timestamp: %v", index, r.layout(), err)
	}
	return t, nil
}

// SortDescending parses every index of base and orders them newest first.
// Two indices with the same timestamp are a configuration error.
func (r Resolver) SortDescending(base string, indices []string) ([]Dated, error) {
	dated := make([]Dated, 0, len(indices))
	seen := make(map[int64]string, len(indices))
	for _, name := range indices {
		t, err := r.ParseTimestamp(base, name)
		if err != nil {
			return nil, err
		}
		if other, ok := seen[t.UnixNano()]; ok {
			return nil, fault.Configf("sort indices", "indices %s and %s have the same timestamp", other, name)
		}
		seen[t.UnixNano()] = name
		dated = append(dated, Dated{Name: name, Time: t})
	}
	sort.Slice(dated, func(i, j int) bool {
		return dated[i].Time.After(dated[j].Time)
	})
	return dated, nil
}
