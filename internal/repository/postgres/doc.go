// Package postgres implements the engine's persistence against PostgreSQL
// using database/sql with the lib/pq driver.
//
// A single Repo serves both the sequence service interface and the
// dispatcher's job store. Claim semantics rely on conditional updates so
// that concurrent dispatchers and API cancellations never double-process
// a job.
package postgres
