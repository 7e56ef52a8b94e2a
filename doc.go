// Package syncache implements an offline-first synchronization and caching
// layer: a client-resident store that keeps an application usable without
// network connectivity, serves stale-but-usable data deterministically,
// queues writes made while disconnected, and reconciles them against the
// server once connectivity returns.
//
// Components:
//   - Cache store: versioned, keyed storage of server responses on a
//     pluggable byte Provider (e.g. SQLite, Ristretto, BigCache, Redis),
//     each entry tagged with its strategy and cache generation.
//   - Strategy router: maps a resource key to CacheFirst, NetworkFirst or
//     StaleWhileRevalidate via prefix rules fixed at construction time.
//   - Mutation queue: durable, per-key FIFO log of write operations made
//     while offline or failed in flight (pluggable queuestore backends).
//   - Sync orchestrator: drains the queue when connectivity returns, with
//     exponential backoff and last-writer-wins conflict handling.
//   - Update manager: detects a newly deployed asset generation, prefetches
//     it without disturbing the active one, and evicts superseded
//     generations on activation.
//
// Keys:
//
//	entry:<ns>:g<gen>:<key> - cache entries; one live entry per key per generation
//
// Usage:
//
//	prov, _ := sqlite.Open("app.db")
//	rules, _ := syncache.NewRules(syncache.NetworkFirst,
//	    syncache.Rule{Prefix: "/assets/", Strategy: syncache.CacheFirst},
//	    syncache.Rule{Prefix: "/session", Strategy: syncache.StaleWhileRevalidate},
//	)
//	client, _ := syncache.New(syncache.Options{
//	    Namespace: "field-app",
//	    Provider:  prov,
//	    Transport: transport.NewHTTP(baseURL, nil),
//	    Rules:     rules,
//	})
//	defer client.Close(ctx)
//
//	payload, err := client.Request(ctx, "/jobs/42")
//	id, err := client.Enqueue(ctx, syncache.Mutation{Key: "/jobs/42", Op: syncache.OpUpdate, Payload: body})
package syncache
