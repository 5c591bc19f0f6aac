// Package store persists pipeline runs, per-visit measures, aggregate
// rows, and quality reports behind a backend-neutral Store interface.
// The embedded SQLite backend is the default; a Postgres backend serves
// shared deployments. Both apply the same embedded schema and write each
// run in one transaction.
package store
