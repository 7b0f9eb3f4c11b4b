// Package corpus defines the embedded CodeBundle corpus that the retrieval
// core searches.
//
// The corpus is built and refreshed out-of-band by the catalog indexing job;
// this package reads it at query time and writes only through seeding
// (LoadFile + Upsert). Two Index implementations are provided:
//
//   - Memory: an in-process index over an atomically swapped snapshot,
//     used for tests and single-node deployments.
//   - Store: PostgreSQL + pgvector, sharing the catalog database.
//
// Both guarantee that a concurrent refresh is observed as either the old or
// the new corpus, never a partial mix.
package corpus
