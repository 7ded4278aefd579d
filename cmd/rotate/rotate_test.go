package rotate

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/elasticsearch"
	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway/gatewaytest"
	"github.com/stackvista/stackstate-index-cli/internal/logger"
	"github.com/stackvista/stackstate-index-cli/internal/naming"
	"github.com/stackvista/stackstate-index-cli/internal/output"
	"github.com/stackvista/stackstate-index-cli/internal/rotation"
)

func TestRotateCmd_Structure(t *testing.T) {
	cmd := Cmd(config.NewContext())

	assert.Equal(t, "rotate", cmd.Use)
	names := []string{}
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"run", "schedule", "window"}, names)

	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	for _, flag := range []string{"search-indices", "roll-indices", "delete-after-roll", "new-index-shards", "new-index-replicas", "new-index-refresh", "index-body-file"} {
		assert.NotNil(t, run.Flags().Lookup(flag), flag)
	}
	assert.Equal(t, "2", run.Flags().Lookup("new-index-shards").DefValue)
	assert.Equal(t, "10s", run.Flags().Lookup("new-index-refresh").DefValue)
}

func defaultRunOptions() runOptions {
	return runOptions{searchIndices: 1, rollIndices: 1, shards: 2, replicas: 1, refresh: "10s"}
}

func TestBuildRequest(t *testing.T) {
	cfg := config.Defaults()
	cfg.Rotation.Jobs = []config.RotationJob{{
		Base:         "sts_trace_events",
		Cron:         "@hourly",
		RetainTotal:  8,
		RetainSearch: 4,
		NewIndex:     rotation.IndexSettings{Shards: 3, Replicas: 0, Refresh: "30s"},
	}}

	tests := []struct {
		name     string
		base     string
		opts     func(*runOptions)
		changed  []string
		want     rotation.Request
		wantBody string
	}{
		{
			name:     "flags without job",
			base:     "logs",
			opts:     func(o *runOptions) { o.searchIndices = 2; o.rollIndices = 5; o.deleteAfterRoll = true },
			want:     rotation.Request{Base: "logs", RetainTotal: 5, RetainSearch: 2, DeleteOnExpire: true},
			wantBody: `{"settings":{"index.number_of_replicas":1,"index.number_of_shards":2,"index.refresh_interval":"10s"}}`,
		},
		{
			name:     "configured job",
			base:     "sts_trace_events",
			want:     rotation.Request{Base: "sts_trace_events", RetainTotal: 8, RetainSearch: 4},
			wantBody: `{"settings":{"index.number_of_replicas":0,"index.number_of_shards":3,"index.refresh_interval":"30s"}}`,
		},
		{
			name:     "flags override job",
			base:     "sts_trace_events",
			opts:     func(o *runOptions) { o.rollIndices = 10; o.replicas = 2 },
			changed:  []string{"roll-indices", "new-index-replicas"},
			want:     rotation.Request{Base: "sts_trace_events", RetainTotal: 10, RetainSearch: 4},
			wantBody: `{"settings":{"index.number_of_replicas":2,"index.number_of_shards":3,"index.refresh_interval":"30s"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultRunOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}
			changed := func(flag string) bool {
				for _, c := range tt.changed {
					if c == flag {
						return true
					}
				}
				return false
			}

			req, err := buildRequest(tt.base, cfg, opts, changed)
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantBody, string(req.IndexBody))
			req.IndexBody = nil
			assert.Equal(t, tt.want, req)
		})
	}
}

func TestBuildRequest_IndexBodyFile(t *testing.T) {
	dir := t.TempDir()
	valid := filepath.Join(dir, "body.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{"settings":{"index.number_of_shards":6}}`), 0o600))
	invalid := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"settings":`), 0o600))

	opts := defaultRunOptions()
	opts.indexBodyFile = valid
	req, err := buildRequest("logs", config.Defaults(), opts, func(string) bool { return false })
	require.NoError(t, err)
	assert.JSONEq(t, `{"settings":{"index.number_of_shards":6}}`, string(req.IndexBody))

	opts.indexBodyFile = invalid
	_, err = buildRequest("logs", config.Defaults(), opts, func(string) bool { return false })
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindConfiguration))

	opts.indexBodyFile = filepath.Join(dir, "missing.json")
	_, err = buildRequest("logs", config.Defaults(), opts, func(string) bool { return false })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read index body")
}

func TestScheduleJobs(t *testing.T) {
	engine, err := rotation.NewEngine(gatewaytest.New(), rotation.NoLock)
	require.NoError(t, err)

	t.Run("no jobs", func(t *testing.T) {
		err := scheduleJobs(rotation.NewScheduler(engine, logger.Discard()), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rotation.jobs")
	})

	t.Run("registers every job", func(t *testing.T) {
		scheduler := rotation.NewScheduler(engine, logger.Discard())
		err := scheduleJobs(scheduler, []config.RotationJob{
			{Base: "a", Cron: "*/15 * * * *", RetainTotal: 2, RetainSearch: 1, NewIndex: rotation.DefaultIndexSettings()},
			{Base: "b", Cron: "@daily", RetainTotal: 2, RetainSearch: 1, NewIndex: rotation.DefaultIndexSettings()},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, scheduler.Jobs())
	})

	t.Run("bad cron", func(t *testing.T) {
		err := scheduleJobs(rotation.NewScheduler(engine, logger.Discard()), []config.RotationJob{
			{Base: "a", Cron: "sometimes", RetainTotal: 1, RetainSearch: 1},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cron schedule")
	})
}

func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Hour)
		return current
	}
}

func TestRotateOnce_PrintsResult(t *testing.T) {
	cluster := gatewaytest.New()
	engine, err := rotation.NewEngine(cluster, rotation.NewMutexLocker(),
		rotation.WithClock(fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, err)
	req := rotation.Request{Base: "logs", RetainTotal: 2, RetainSearch: 1, DeleteOnExpire: true}

	var first bytes.Buffer
	require.NoError(t, rotateOnce(context.Background(), engine, req, output.NewFormatterWithWriter(&first, "table")))
	assert.Contains(t, first.String(), "CREATED")
	assert.Contains(t, first.String(), "logs_2024-03-01-01-00")

	var second bytes.Buffer
	require.NoError(t, rotateOnce(context.Background(), engine, req, output.NewFormatterWithWriter(&second, "json")))
	var fields map[string]string
	require.NoError(t, json.Unmarshal(second.Bytes(), &fields))
	assert.Equal(t, "logs", fields["base"])
	assert.Equal(t, "logs_2024-03-01-02-00", fields["created"])
	assert.Equal(t, "logs_2024-03-01-01-00", fields["priorFeed"])
	assert.Equal(t, "logs_2024-03-01-01-00", fields["removedAlias"])
	assert.Empty(t, fields["deleted"])
}

// detailedCluster adds cat listings to the in-memory cluster
type detailedCluster struct {
	*gatewaytest.Cluster
	rows    []elasticsearch.IndexInfo
	pattern string
}

func (f *detailedCluster) ListIndicesDetailed(_ context.Context, pattern string) ([]elasticsearch.IndexInfo, error) {
	f.pattern = pattern
	return f.rows, nil
}

func TestLoadWindow(t *testing.T) {
	cluster := &detailedCluster{
		Cluster: gatewaytest.New(),
		rows: []elasticsearch.IndexInfo{
			{Index: "logs_2024-03-01-04-00", Health: "green", Status: "open", DocsCount: "12", StoreSize: "4kb"},
		},
	}
	engine, err := rotation.NewEngine(cluster, rotation.NoLock,
		rotation.WithClock(fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := engine.Rotate(context.Background(), rotation.Request{Base: "logs", RetainTotal: 3, RetainSearch: 2})
		require.NoError(t, err)
	}

	entries, err := loadWindow(context.Background(), cluster, naming.NewResolver(), "logs")
	require.NoError(t, err)
	assert.Equal(t, "logs_*", cluster.pattern)

	require.Len(t, entries, 3)
	assert.Equal(t, "logs_2024-03-01-04-00", entries[0].Index)
	assert.Equal(t, []string{"feed", "search", "roll"}, entries[0].Roles)
	assert.Equal(t, "green", entries[0].Health)
	assert.Equal(t, "12", entries[0].DocsCount)
	assert.Equal(t, []string{"search", "roll"}, entries[1].Roles)
	assert.Equal(t, []string{"roll"}, entries[2].Roles)
	assert.Equal(t, "logs_2024-03-01-02-00", entries[2].Index)
	assert.True(t, entries[0].Created.After(entries[1].Created))
}

func TestLoadWindow_EmptyGroup(t *testing.T) {
	entries, err := loadWindow(context.Background(), gatewaytest.New(), naming.NewResolver(), "logs")
	require.NoError(t, err)
	assert.Empty(t, entries)

	var buf bytes.Buffer
	require.NoError(t, printWindow(output.NewFormatterWithWriter(&buf, "table"), "logs", entries))
	assert.Equal(t, "No indices found for logs\n", buf.String())
}

func TestPrintWindow_JSON(t *testing.T) {
	created := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := printWindow(output.NewFormatterWithWriter(&buf, "json"), "logs", []windowEntry{
		{Index: "logs_2024-03-01-04-00", Created: created, Roles: []string{"feed", "search", "roll"}},
	})
	require.NoError(t, err)

	var got []windowEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "logs_2024-03-01-04-00", got[0].Index)
	assert.True(t, created.Equal(got[0].Created))
	assert.NotContains(t, buf.String(), "health")
}
