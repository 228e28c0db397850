package sink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	esv8 "github.com/elastic/go-elasticsearch/v8"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeESTransport is a minimal http.RoundTripper standing in for the
// Elasticsearch HTTP transport esv8.Client normally drives: it answers
// HEAD /<index> (exists check), PUT /<index> (create), and POST /_bulk
// with canned responses, and records the body of every create request so
// tests can assert on the mapping it was sent.
type fakeESTransport struct {
	indexExists  bool
	bulkBody     string
	createBodies []string
}

func (f *fakeESTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	switch {
	case req.Method == http.MethodHead:
		status := http.StatusNotFound
		if f.indexExists {
			status = http.StatusOK
		}
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil

	case req.Method == http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.createBodies = append(f.createBodies, string(body))
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"acknowledged":true}`))}, nil

	case req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/_bulk"):
		body := f.bulkBody
		if body == "" {
			body = `{"errors":false,"items":[]}`
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil

	default:
		return nil, fmt.Errorf("fakeESTransport: unhandled request %s %s", req.Method, req.URL.Path)
	}
}

func newFakeClient(t *testing.T, transport *fakeESTransport) *esv8.Client {
	t.Helper()
	client, err := esv8.NewClient(esv8.Config{Transport: transport})
	require.NoError(t, err)
	return client
}

func testPipeline(index string) *domain.Pipeline {
	return &domain.Pipeline{
		Name:        "es-sync",
		Type:        domain.PipelineTypeSQL,
		Mode:        domain.ModeFull,
		TargetTable: "es:" + index,
	}
}

func TestDocumentIndexWriter_CreatesIndexWithRegisteredMapping(t *testing.T) {
	transport := &fakeESTransport{}
	client := newFakeClient(t, transport)
	allowlist := domain.NewAllowlist(nil, []string{"film_dim"})
	mappings := domain.IndexMappings{
		"film_dim": {
			"properties": map[string]any{
				"film_id": map[string]any{"type": "keyword"},
			},
		},
	}
	w := NewDocumentIndexWriter(client, allowlist, mappings)

	n, err := w.Write(context.Background(), nil, testPipeline("film_dim"), []reader.Row{{"id": "1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, transport.createBodies, 1)
	assert.Contains(t, transport.createBodies[0], `"film_id"`)
	assert.NotContains(t, transport.createBodies[0], `"dynamic"`)
}

func TestDocumentIndexWriter_FallsBackToDynamicMappingForUnregisteredIndex(t *testing.T) {
	transport := &fakeESTransport{}
	client := newFakeClient(t, transport)
	allowlist := domain.NewAllowlist(nil, []string{"unregistered_idx"})
	w := NewDocumentIndexWriter(client, allowlist, domain.IndexMappings{})

	_, err := w.Write(context.Background(), nil, testPipeline("unregistered_idx"), []reader.Row{{"id": "1"}})
	require.NoError(t, err)

	require.Len(t, transport.createBodies, 1)
	assert.Contains(t, transport.createBodies[0], `"dynamic":true`)
}

func TestDocumentIndexWriter_SkipsCreateWhenIndexAlreadyExists(t *testing.T) {
	transport := &fakeESTransport{indexExists: true}
	client := newFakeClient(t, transport)
	allowlist := domain.NewAllowlist(nil, []string{"film_dim"})
	w := NewDocumentIndexWriter(client, allowlist, domain.IndexMappings{})

	_, err := w.Write(context.Background(), nil, testPipeline("film_dim"), []reader.Row{{"id": "1"}})
	require.NoError(t, err)
	assert.Empty(t, transport.createBodies)
}

func TestDocumentIndexWriter_BulkItemErrorIsReturned(t *testing.T) {
	transport := &fakeESTransport{
		indexExists: true,
		bulkBody: `{"errors":true,"items":[{"update":{"error":{"reason":"mapper_parsing_exception"}}}]}`,
	}
	client := newFakeClient(t, transport)
	allowlist := domain.NewAllowlist(nil, []string{"film_dim"})
	w := NewDocumentIndexWriter(client, allowlist, domain.IndexMappings{})

	_, err := w.Write(context.Background(), nil, testPipeline("film_dim"), []reader.Row{{"id": "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestDocumentIndexWriter_RejectsTargetNotInAllowlist(t *testing.T) {
	w := NewDocumentIndexWriter(nil, domain.NewAllowlist(nil, nil), domain.IndexMappings{})

	_, err := w.Write(context.Background(), nil, testPipeline("not_allowed"), []reader.Row{{"id": "1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrContractViolation)
}

func TestDocumentIndexWriter_EmptyBatchIsNoop(t *testing.T) {
	w := NewDocumentIndexWriter(nil, domain.NewAllowlist(nil, nil), domain.IndexMappings{})

	n, err := w.Write(context.Background(), nil, testPipeline("whatever"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
