package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	esv8 "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pipeflow/runner/internal/domain"
	"github.com/pipeflow/runner/internal/execctx"
	"github.com/pipeflow/runner/internal/reader"
)

// DocumentIndexWriter bulk-writes batches to an allowlisted document index
// via the Elasticsearch bulk API, using {update; doc_as_upsert} operations.
// It is not transactional with the pipeline's Postgres checkpoint write —
// unlike RelationalWriter, target acknowledgment happens before the
// checkpoint commit, not inside the same transaction.
type DocumentIndexWriter struct {
	client    *esv8.Client
	allowlist domain.Allowlist
	mappings  domain.IndexMappings
	ensured   map[string]bool
}

// NewDocumentIndexWriter builds a DocumentIndexWriter against client,
// scoped to allowlist. mappings registers the field mapping each index
// should be created with; an index absent from mappings falls back to a
// dynamic mapping (see domain.IndexMappings).
func NewDocumentIndexWriter(client *esv8.Client, allowlist domain.Allowlist, mappings domain.IndexMappings) *DocumentIndexWriter {
	return &DocumentIndexWriter{client: client, allowlist: allowlist, mappings: mappings, ensured: make(map[string]bool)}
}

func (w *DocumentIndexWriter) Write(ctx context.Context, execCtx *execctx.ExecutionContext, pipeline *domain.Pipeline, rows []reader.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	index := pipeline.ESIndexName()
	if index == "" || !w.allowlist.Allows(pipeline.TargetTable) {
		return 0, fmt.Errorf("sink: target_table %q is not an allowlisted document index: %w", pipeline.TargetTable, domain.ErrContractViolation)
	}

	if err := w.ensureIndex(ctx, index); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	for _, row := range rows {
		id, ok := row["id"]
		if !ok {
			return 0, fmt.Errorf("sink: row missing id for document index write: %w", domain.ErrContractViolation)
		}

		meta := map[string]any{"update": map[string]any{"_index": index, "_id": fmt.Sprintf("%v", id)}}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return 0, fmt.Errorf("sink: marshal bulk action metadata: %w", err)
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')

		body := map[string]any{"doc": normalizeRow(row), "doc_as_upsert": true}
		bodyLine, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("sink: marshal bulk document: %w", err)
		}
		buf.Write(bodyLine)
		buf.WriteByte('\n')
	}

	res, err := esapi.BulkRequest{Body: &buf, Refresh: "false"}.Do(ctx, w.client)
	if err != nil {
		return 0, fmt.Errorf("sink: bulk request to index %q: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("sink: bulk request to index %q failed: %s", index, res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("sink: decode bulk response for index %q: %w", index, err)
	}
	if parsed.Errors {
		for _, item := range parsed.Items {
			for _, result := range item {
				if result.Error != nil {
					return 0, fmt.Errorf("sink: bulk item error in index %q: %s", index, result.Error.Reason)
				}
			}
		}
	}

	return len(rows), nil
}

// Close releases the underlying HTTP transport's idle connections.
func (w *DocumentIndexWriter) Close() error {
	if transport, ok := w.client.Transport.(interface{ CloseIdleConnections() }); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

func (w *DocumentIndexWriter) ensureIndex(ctx context.Context, index string) error {
	if w.ensured[index] {
		return nil
	}

	existsRes, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, w.client)
	if err != nil {
		return fmt.Errorf("sink: check index %q exists: %w", index, err)
	}
	defer existsRes.Body.Close()
	if existsRes.StatusCode == 200 {
		w.ensured[index] = true
		return nil
	}

	body, err := json.Marshal(w.mappings.MappingFor(index))
	if err != nil {
		return fmt.Errorf("sink: marshal mapping for index %q: %w", index, err)
	}

	createRes, err := esapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	}.Do(ctx, w.client)
	if err != nil {
		return fmt.Errorf("sink: create index %q: %w", index, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("sink: create index %q failed: %s", index, createRes.String())
	}

	w.ensured[index] = true
	return nil
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	Error *struct {
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// normalizeRow converts values pgx decodes into non-JSON-native Go types
// (UUID, timestamp, numeric) into the plain JSON representations the
// document-index write requires: UUID → string, Decimal → float,
// date/datetime → ISO string.
func normalizeRow(row reader.Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case uuid.UUID:
		return val.String()
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err == nil && f.Valid {
			return f.Float64
		}
		return nil
	default:
		return v
	}
}
