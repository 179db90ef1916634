package eventsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/dmitrymomot/billingkit/pkg/lifecycle"
)

// OpenSearchIndexer stores lifecycle events as documents for search and reporting.
// The event ID is the document ID, so a re-delivered event overwrites itself.
type OpenSearchIndexer struct {
	client *opensearch.Client
	index  string
}

// NewOpenSearchIndexer creates an indexer writing to index.
func NewOpenSearchIndexer(client *opensearch.Client, index string) *OpenSearchIndexer {
	return &OpenSearchIndexer{client: client, index: index}
}

// Handle is a lifecycle.EventHandler.
func (i *OpenSearchIndexer) Handle(ctx context.Context, event lifecycle.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventsink: encode event %s: %w", event.ID, err)
	}

	req := opensearchapi.IndexRequest{
		Index:      i.index,
		DocumentID: event.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("eventsink: index event %s: %w", event.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("eventsink: index event %s: %s: %s", event.ID, res.Status(), bytes.TrimSpace(msg))
	}
	return nil
}
