// Package eventsink provides lifecycle.EventHandler implementations that
// forward engine events to other systems:
//
//   - RedisStream appends each event to a Redis stream for downstream consumers.
//   - OpenSearchIndexer indexes events for search and reporting.
//   - DunningMailer emails customers about failed payments and cancellations.
//   - Webhook POSTs signed events to an HTTP endpoint, retrying temporary failures.
//
// Sinks are attached with their Handle method:
//
//	engine, err := lifecycle.New(cfg, store, processor, plans,
//		lifecycle.WithEventHandler(stream.Handle, indexer.Handle, mailer.Handle),
//	)
//
// The engine logs and swallows handler errors, so a failing sink never blocks billing.
package eventsink
