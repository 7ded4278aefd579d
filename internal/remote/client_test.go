package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/scroll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, legacy bool, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, Legacy: legacy})
	require.NoError(t, err)
	return client
}

func TestConfig_BaseURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected string
	}{
		{name: "host with default port", cfg: Config{Host: "es-old"}, expected: "http://es-old:9200"},
		{name: "host and port", cfg: Config{Host: "10.0.0.7", Port: 9201}, expected: "http://10.0.0.7:9201"},
		{name: "URL wins", cfg: Config{URL: "https://search.example.com:443", Host: "ignored"}, expected: "https://search.example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.cfg.BaseURL()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u.String())
		})
	}

	for _, cfg := range []Config{{}, {URL: "not a url"}} {
		_, err := cfg.BaseURL()
		require.Error(t, err)
		assert.True(t, fault.IsKind(err, fault.KindConfiguration))
	}
}

func TestKeepAliveParam(t *testing.T) {
	tests := []struct {
		in       time.Duration
		expected string
	}{
		{in: 100 * time.Minute, expected: "100m"},
		{in: 90 * time.Second, expected: "2m"},
		{in: 10 * time.Second, expected: "1m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, keepAliveParam(tt.in))
	}
}

func TestClient_SendsCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Basic ZWxhc3RpYzpzZWNyZXQ=", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"count":3}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL, Credentials: "ZWxhc3RpYzpzZWNyZXQ="})
	require.NoError(t, err)

	count, err := client.Count(context.Background(), "tweets")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestClient_OpenScroll(t *testing.T) {
	filter := json.RawMessage(`{"term":{"user":"ann"}}`)
	tests := []struct {
		name         string
		legacy       bool
		path         string
		searchType   string
		expectedBody string
	}{
		{
			name:         "legacy scan with type in path",
			legacy:       true,
			path:         "/tweets/tweet/_search",
			searchType:   "scan",
			expectedBody: `{"filter":{"term":{"user":"ann"}}}`,
		},
		{
			name:         "current cluster",
			path:         "/tweets/_search",
			expectedBody: `{"query":{"bool":{"filter":[{"term":{"_type":"tweet"}},{"term":{"user":"ann"}}]}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.legacy, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, tt.path, r.URL.Path)
				assert.Equal(t, "100m", r.URL.Query().Get("scroll"))
				assert.Equal(t, "25", r.URL.Query().Get("size"))
				assert.Equal(t, "true", r.URL.Query().Get("version"))
				assert.Equal(t, tt.searchType, r.URL.Query().Get("search_type"))
				body, _ := io.ReadAll(r.Body)
				assert.JSONEq(t, tt.expectedBody, string(body))

				_, _ = w.Write([]byte(`{"_scroll_id":"c2Nhbg","hits":{"total":7,"hits":[]}}`))
			})

			page, err := client.OpenScroll(context.Background(), gateway.ScrollRequest{
				Index: "tweets", Type: "tweet", Filter: filter,
				PageSize: 25, KeepAlive: 100 * time.Minute, WithVersion: true,
			})
			require.NoError(t, err)
			assert.Equal(t, "c2Nhbg", page.ScrollID)
			assert.EqualValues(t, 7, page.Total)
			assert.Empty(t, page.Hits)
		})
	}
}

func TestClient_ContinueScroll(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   fault.Kind
	}{
		{name: "page", status: http.StatusOK, body: `{"_scroll_id":"next","hits":{"total":2,"hits":[{"_id":"1","_source":{}}]}}`},
		{name: "expired", status: http.StatusNotFound, body: `{}`, kind: fault.KindCursorExpired},
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"boom"}`, kind: fault.KindGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, false, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/_search/scroll", r.URL.Path)
				assert.Equal(t, "abc", r.URL.Query().Get("scroll_id"))
				assert.Equal(t, "5m", r.URL.Query().Get("scroll"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			page, err := client.ContinueScroll(context.Background(), "abc", 5*time.Minute)
			if tt.kind != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.kind, fault.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "next", page.ScrollID)
			assert.Len(t, page.Hits, 1)
		})
	}
}

func TestClient_ClearScroll(t *testing.T) {
	t.Run("legacy uses the id in the path", func(t *testing.T) {
		client := newTestClient(t, true, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "/_search/scroll/abc", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		})
		assert.NoError(t, client.ClearScroll(context.Background(), "abc"))
	})

	t.Run("current cluster uses a body", func(t *testing.T) {
		client := newTestClient(t, false, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/_search/scroll", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"scroll_id":["abc"]}`, string(body))
			_, _ = w.Write([]byte(`{"succeeded":true}`))
		})
		assert.NoError(t, client.ClearScroll(context.Background(), "abc"))
	})
}

func TestClient_BulkWrite(t *testing.T) {
	tests := []struct {
		name   string
		legacy bool
		docTyp string
		action string
	}{
		{
			name:   "legacy keeps type and parent",
			legacy: true,
			docTyp: "comment",
			action: `{"index":{"_index":"blog","_type":"comment","_id":"c1","parent":"p1"}}`,
		},
		{
			name:   "current cluster drops _doc and uses routing",
			docTyp: gateway.DocType,
			action: `{"index":{"_index":"blog","_id":"c1","routing":"p1"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.legacy, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/_bulk", r.URL.Path)
				assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
				body, _ := io.ReadAll(r.Body)
				lines := strings.Split(strings.TrimSuffix(string(body), "\n"), "\n")
				require.Len(t, lines, 2)
				assert.JSONEq(t, tt.action, lines[0])
				_, _ = w.Write([]byte(`{"errors":false,"items":[{"index":{"_id":"c1","status":201}}]}`))
			})

			failed, err := client.BulkWrite(context.Background(), gateway.BulkRequest{
				Index: "blog",
				Type:  tt.docTyp,
				Hits:  []gateway.SearchHit{{ID: "c1", Routing: "p1", Source: json.RawMessage(`{"text":"hi"}`)}},
			})
			require.NoError(t, err)
			assert.Empty(t, failed)
		})
	}
}

func TestClient_ListIndices(t *testing.T) {
	tests := []struct {
		name     string
		legacy   bool
		path     string
		response string
	}{
		{
			name:     "cat output",
			path:     "/_cat/indices/tweets_*",
			response: `[{"index":"tweets_a"},{"index":"tweets_b"}]`,
		},
		{
			name:     "legacy settings keys",
			legacy:   true,
			path:     "/tweets_*/_settings",
			response: `{"tweets_b":{"settings":{"index.number_of_shards":"5"}},"tweets_a":{"settings":{}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.legacy, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.path, r.URL.Path)
				if tt.legacy {
					assert.Empty(t, r.URL.Query().Get("format"))
				}
				_, _ = w.Write([]byte(tt.response))
			})

			names, err := client.ListIndices(context.Background(), "tweets_*")
			require.NoError(t, err)
			assert.Equal(t, []string{"tweets_a", "tweets_b"}, names)
		})
	}
}

func TestClient_IndexAndAliasOperations(t *testing.T) {
	var requests []string
	client := newTestClient(t, false, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/missing":
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/_alias/tweets_feed":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"alias [tweets_feed] missing"}`))
		case r.URL.Path == "/_cat/indices/tweets_roll":
			_, _ = w.Write([]byte(`[{"index":"tweets_2"},{"index":"tweets_1"}]`))
		default:
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		}
	})
	ctx := context.Background()

	exists, err := client.IndexExists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = client.IndexExists(ctx, "tweets_1")
	require.NoError(t, err)
	assert.True(t, exists)

	members, err := client.AliasMembers(ctx, "tweets_feed")
	require.NoError(t, err)
	assert.Empty(t, members)

	concrete, err := client.ConcreteIndices(ctx, []string{"tweets_roll"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tweets_1", "tweets_2"}, concrete)

	require.NoError(t, client.CreateIndex(ctx, "tweets_3", nil))
	require.NoError(t, client.MoveAlias(ctx, "tweets_2", "tweets_3", "tweets_feed"))
	require.NoError(t, client.CloseIndex(ctx, "tweets_1"))
	require.NoError(t, client.DeleteIndex(ctx, "tweets_1"))

	assert.Equal(t, []string{
		"HEAD /missing",
		"HEAD /tweets_1",
		"GET /_alias/tweets_feed",
		"GET /_cat/indices/tweets_roll",
		"PUT /tweets_3",
		"POST /_aliases",
		"POST /tweets_1/_close",
		"DELETE /tweets_1",
	}, requests)
}

func TestClient_DrivesACursorThroughAScan(t *testing.T) {
	pages := []string{
		`{"_scroll_id":"s1","hits":{"total":3,"hits":[]}}`,
		`{"_scroll_id":"s2","hits":{"total":3,"hits":[{"_id":"1","_source":{"n":1}},{"_id":"2","_source":{"n":2}}]}}`,
		`{"_scroll_id":"s3","hits":{"total":3,"hits":[{"_id":"3","_source":{"n":3}}]}}`,
		`{"_scroll_id":"s4","hits":{"total":3,"hits":[]}}`,
	}
	var served int
	client := newTestClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			assert.Equal(t, "/_search/scroll/s4", r.URL.Path)
			return
		}
		_, _ = w.Write([]byte(pages[served]))
		served++
	})
	ctx := context.Background()

	cursor, err := scroll.Open(ctx, client, gateway.ScrollRequest{Index: "tweets", PageSize: 2, KeepAlive: time.Minute})
	require.NoError(t, err)

	var ids []string
	for {
		hits, err := cursor.Next(ctx)
		require.NoError(t, err)
		if len(hits) == 0 {
			break
		}
		for _, h := range hits {
			ids = append(ids, h.ID)
		}
	}
	require.NoError(t, cursor.Close(ctx))

	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.EqualValues(t, 3, cursor.Total())
	assert.Equal(t, 4, served)
}
