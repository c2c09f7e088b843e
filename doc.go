// Package apicache is the data-synchronization layer between the charging
// admin UIs and the platform API. It serves cached query results to many
// subscribers, deduplicates in-flight requests, and refetches what a
// successful mutation invalidates.
//
// Components:
//   - Registry: Query and Mutation declarations, registered once at New.
//   - Executor: one HTTP call per fetch, bearer credential from a TokenSource,
//     envelope decoded into a value or an *Error before anything else runs.
//   - Core: one entry per Key (operation name + canonical JSON of args), a
//     tag index, a GC sweep for unsubscribed entries and a single
//     notification dispatcher.
//   - GenStore: per-tag generations. Local by default, Redis to make an
//     invalidation on one process visible to all of them.
//   - Persist (optional): write-through provider for results, read back as
//     Stale when the API cannot be reached.
//
// Tags:
//
//	{Station, "A"}  point tag: exact match
//	{Station}       list tag: every entry carrying any Station tag
//
// Typical use:
//
//	h, _ := apicache.Subscribe(client, evapi.GetStation, "A", render)
//	defer h.Unsubscribe()
//	_, _ = apicache.Mutate(ctx, client, evapi.UpdateStation, update) // h refetches
package apicache
