// Package opensearch creates opensearch-go v2 clients from environment
// configuration and exposes a health check.
//
//	client, err := opensearch.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	indexer := eventsink.NewOpenSearchIndexer(client, cfg.EventIndex)
//
// New fails with ErrConnectionFailed or ErrHealthcheckFailed so callers can
// decide whether event indexing is optional for them.
package opensearch
