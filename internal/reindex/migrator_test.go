package reindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/gateway/gatewaytest"
	"github.com/stackvista/stackstate-index-cli/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hit(id, source string) gateway.SearchHit {
	return gateway.SearchHit{ID: id, Source: json.RawMessage(source)}
}

func seedTweets(cluster *gatewaytest.Cluster, n int) {
	for i := 1; i <= n; i++ {
		cluster.Seed("tweets", hit(fmt.Sprintf("%d", i), fmt.Sprintf(`{"name":"tweet %d","count":%d}`, i, i)))
	}
}

func copyJob(cluster *gatewaytest.Cluster, pageSize int) Job {
	return Job{
		Source:      cluster,
		SourceIndex: "tweets",
		PageSize:    pageSize,
		KeepAlive:   time.Minute,
		Options:     Options{Index: "tweets_copy"},
	}
}

func TestMigrator_RoundTripIsByteIdentical(t *testing.T) {
	cluster := gatewaytest.New()
	source := `{"name": "hello world", "count": 1}`
	cluster.Seed("tweets", hit("1", source))

	out, err := NewMigrator(cluster).Run(context.Background(), copyJob(cluster, 10))
	require.NoError(t, err)
	assert.EqualValues(t, 1, out.Collected)

	docs := cluster.Documents("tweets_copy")
	require.Len(t, docs, 1)
	assert.Equal(t, "1", docs[0].ID)
	assert.Equal(t, []byte(source), []byte(docs[0].Source))
	assert.EqualValues(t, len(source), out.Bytes)
}

func TestMigrator_IsIdempotent(t *testing.T) {
	cluster := gatewaytest.New()
	seedTweets(cluster, 7)
	m := NewMigrator(cluster)

	_, err := m.Run(context.Background(), copyJob(cluster, 3))
	require.NoError(t, err)
	first := cluster.Documents("tweets_copy")

	_, err = m.Run(context.Background(), copyJob(cluster, 3))
	require.NoError(t, err)
	second := cluster.Documents("tweets_copy")

	require.Len(t, second, 7)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Source, second[i].Source)
	}
}

func TestMigrator_FilteredMigration(t *testing.T) {
	cluster := gatewaytest.New()
	cluster.Seed("tweets",
		hit("1", `{"name":"first","count":1}`),
		hit("2", `{"name":"second","count":2}`))

	job := copyJob(cluster, 10)
	job.Filter = json.RawMessage(`{"term":{"count":2}}`)
	out, err := NewMigrator(cluster).Run(context.Background(), job)
	require.NoError(t, err)
	assert.EqualValues(t, 1, out.Total)

	docs := cluster.Documents("tweets_copy")
	require.Len(t, docs, 1)
	var doc struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(docs[0].Source, &doc))
	assert.Equal(t, "second", doc.Name)
}

func TestMigrator_ExhaustionReportsCollectedEqualsTotal(t *testing.T) {
	tests := []struct {
		name     string
		docs     int
		pageSize int
		scanMode bool
	}{
		{name: "empty source", docs: 0, pageSize: 5},
		{name: "exact pages", docs: 10, pageSize: 5},
		{name: "partial last page", docs: 11, pageSize: 5},
		{name: "legacy scan", docs: 11, pageSize: 5, scanMode: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cluster := gatewaytest.New()
			cluster.ScanMode = tt.scanMode
			cluster.Seed("tweets")
			seedTweets(cluster, tt.docs)

			out, err := NewMigrator(cluster).Run(context.Background(), copyJob(cluster, tt.pageSize))
			require.NoError(t, err)
			assert.EqualValues(t, tt.docs, out.Total)
			assert.Equal(t, out.Total, out.Collected)
			assert.Zero(t, out.Skipped)
			assert.Zero(t, out.Failed)
			assert.Zero(t, cluster.OpenScrolls())
		})
	}
}

func TestMigrator_SkipsHitsWithoutID(t *testing.T) {
	cluster := gatewaytest.New()
	cluster.Seed("tweets", hit("1", `{"a":1}`), hit("", `{"a":2}`), hit("3", `{"a":3}`))
	buf := &bytes.Buffer{}

	out, err := NewMigrator(cluster, WithLogger(logger.NewWithWriter(buf, false, false))).
		Run(context.Background(), copyJob(cluster, 10))
	require.NoError(t, err)

	assert.EqualValues(t, 1, out.Skipped)
	assert.EqualValues(t, 3, out.Collected)
	assert.Len(t, cluster.Documents("tweets_copy"), 2)
	assert.Contains(t, buf.String(), "Warning: skipped document without id")
}

func TestMigrator_ThrottleSkipsFirstPage(t *testing.T) {
	cluster := gatewaytest.New()
	seedTweets(cluster, 9)

	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	job := copyJob(cluster, 3)
	job.Options.Wait = 2 * time.Second

	_, err := NewMigrator(cluster, WithSleep(sleep)).Run(context.Background(), job)
	require.NoError(t, err)

	// three full pages and the empty page that ends the run
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, slept)
}

func TestMigrator_NoWaitNeverSleeps(t *testing.T) {
	cluster := gatewaytest.New()
	seedTweets(cluster, 4)
	sleep := func(context.Context, time.Duration) error {
		t.Fatal("sleep called without wait")
		return nil
	}

	_, err := NewMigrator(cluster, WithSleep(sleep)).Run(context.Background(), copyJob(cluster, 1))
	require.NoError(t, err)
}

func TestMigrator_CancelDuringThrottle(t *testing.T) {
	cluster := gatewaytest.New()
	seedTweets(cluster, 6)
	ctx, cancel := context.WithCancel(context.Background())

	job := copyJob(cluster, 2)
	job.Options.Wait = time.Hour
	go func() {
		for cluster.Calls(gatewaytest.OpBulkWrite) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	out, err := NewMigrator(cluster).Run(ctx, job)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, out)
	assert.EqualValues(t, 2, out.Collected)
	assert.Zero(t, cluster.OpenScrolls())
}

func TestMigrator_CountsPerDocumentFailures(t *testing.T) {
	cluster := gatewaytest.New()
	seedTweets(cluster, 4)
	cluster.Seed("tweets_copy", gateway.SearchHit{ID: "2", Version: 9, Source: json.RawMessage(`{"newer":true}`)})
	buf := &bytes.Buffer{}

	job := copyJob(cluster, 2)
	job.Options.WithVersion = true
	out, err := NewMigrator(cluster, WithLogger(logger.NewWithWriter(buf, false, false))).Run(context.Background(), job)
	require.NoError(t, err)

	assert.EqualValues(t, 1, out.Failed)
	assert.EqualValues(t, 4, out.Collected)
	assert.Contains(t, buf.String(), "Warning: 1 documents failed!")
	for _, d := range cluster.Documents("tweets_copy") {
		if d.ID == "2" {
			assert.JSONEq(t, `{"newer":true}`, string(d.Source))
		} else {
			assert.EqualValues(t, 1, d.Version)
		}
	}
}

func TestMigrator_GatewayFailureAbortsAndReleasesScroll(t *testing.T) {
	cluster := gatewaytest.New()
	seedTweets(cluster, 6)
	cluster.FailOn(gatewaytest.OpBulkWrite, 2, errors.New("es_rejected_execution_exception"))

	out, err := NewMigrator(cluster).Run(context.Background(), copyJob(cluster, 2))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindGateway))
	assert.EqualValues(t, 2, out.Collected)
	assert.Zero(t, cluster.OpenScrolls())
}

func TestMigrator_Transform(t *testing.T) {
	cluster := gatewaytest.New()
	seedTweets(cluster, 3)

	job := copyJob(cluster, 2)
	job.Options.Transform = func(hits []gateway.SearchHit) ([]gateway.SearchHit, error) {
		out := make([]gateway.SearchHit, 0, len(hits))
		for _, h := range hits {
			h.Source = json.RawMessage(strings.Replace(string(h.Source), "tweet", "post", 1))
			out = append(out, h)
		}
		return out, nil
	}

	_, err := NewMigrator(cluster).Run(context.Background(), job)
	require.NoError(t, err)
	for _, d := range cluster.Documents("tweets_copy") {
		assert.Contains(t, string(d.Source), `"post `)
	}
}

func TestMigrator_ProgressLines(t *testing.T) {
	cluster := gatewaytest.New()
	seedTweets(cluster, 3)
	buf := &bytes.Buffer{}

	_, err := NewMigrator(cluster, WithLogger(logger.NewWithWriter(buf, false, false))).
		Run(context.Background(), copyJob(cluster, 2))
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Copying 3 documents from tweets into tweets_copy")
	assert.Contains(t, output, "Progress 2/3 update:")
	assert.Contains(t, output, "Progress 3/3 update:")
	assert.Contains(t, output, "found 3, collected 3 into tweets_copy")
}

func TestMigrate_RequiresDestination(t *testing.T) {
	_, err := NewMigrator(gatewaytest.New()).Migrate(context.Background(), nil, Options{})
	assert.Error(t, err)
}
