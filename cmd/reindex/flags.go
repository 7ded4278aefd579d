package reindex

import (
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
)

// pageFlags are the scroll and throttle flags shared by the reindex commands
type pageFlags struct {
	hitsPerPage int
	keepMinutes int
	waitSeconds float64
	withVersion bool
	filter      string
	filterFile  string
}

// pageSettings are pageFlags resolved against the reindex configuration
type pageSettings struct {
	PageSize    int
	KeepAlive   time.Duration
	Wait        time.Duration
	WithVersion bool
	Filter      json.RawMessage
}

func (p *pageFlags) register(cmd *cobra.Command, hitsPerPage, keepMinutes int) {
	cmd.Flags().IntVar(&p.hitsPerPage, "hits-per-page", hitsPerPage, "Documents per scroll page and bulk request (default from reindex.hitsPerPage when configured)")
	cmd.Flags().IntVar(&p.keepMinutes, "keep-time-minutes", keepMinutes, "Scroll keep-alive in minutes (default from reindex.keepTime when configured)")
	cmd.Flags().Float64Var(&p.waitSeconds, "wait-seconds", 0, "Pause between pages in seconds")
	cmd.Flags().BoolVar(&p.withVersion, "with-version", false, "Copy document versions as external versions")
	cmd.Flags().StringVar(&p.filter, "filter", "", "JSON filter selecting the documents to copy")
	cmd.Flags().StringVar(&p.filterFile, "filter-file", "", "File holding the JSON filter")
}

// pick returns the flag value when it was set or nothing else was configured,
// and the configured value otherwise
func pick[T comparable](changed bool, flag, configured, builtin T) T {
	if changed || configured == builtin {
		return flag
	}
	return configured
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// resolve merges the flags that were set into cfg.Reindex and returns the
// effective settings
func (p *pageFlags) resolve(cmd *cobra.Command, cfg *config.Config) (pageSettings, error) {
	changed := cmd.Flags().Changed
	if p.waitSeconds < 0 {
		return pageSettings{}, fault.Configf("reindex", "--wait-seconds must not be negative")
	}

	var overrides config.Config
	if changed("hits-per-page") {
		overrides.Reindex.HitsPerPage = p.hitsPerPage
	}
	if changed("keep-time-minutes") {
		overrides.Reindex.KeepTime = minutes(p.keepMinutes)
	}
	if changed("wait-seconds") {
		overrides.Reindex.Wait = seconds(p.waitSeconds)
	}
	if err := config.Override(cfg, overrides); err != nil {
		return pageSettings{}, err
	}

	filter, err := p.readFilter()
	if err != nil {
		return pageSettings{}, err
	}

	builtin := config.Defaults().Reindex
	settings := pageSettings{
		PageSize:    pick(changed("hits-per-page"), p.hitsPerPage, cfg.Reindex.HitsPerPage, builtin.HitsPerPage),
		KeepAlive:   pick(changed("keep-time-minutes"), minutes(p.keepMinutes), cfg.Reindex.KeepTime, builtin.KeepTime),
		Wait:        pick(changed("wait-seconds"), seconds(p.waitSeconds), cfg.Reindex.Wait, builtin.Wait),
		WithVersion: p.withVersion,
		Filter:      filter,
	}
	if settings.PageSize < 1 {
		return pageSettings{}, fault.Configf("reindex", "--hits-per-page must be at least 1, got %d", settings.PageSize)
	}
	if settings.KeepAlive <= 0 {
		return pageSettings{}, fault.Configf("reindex", "--keep-time-minutes must be at least 1, got %d", p.keepMinutes)
	}
	return settings, nil
}

func (p *pageFlags) readFilter() (json.RawMessage, error) {
	if p.filter != "" && p.filterFile != "" {
		return nil, fault.Configf("reindex", "use either --filter or --filter-file")
	}
	raw := []byte(p.filter)
	if p.filterFile != "" {
		data, err := os.ReadFile(p.filterFile)
		if err != nil {
			return nil, fault.Config("read filter file", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := gateway.ValidateFilter(raw); err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
