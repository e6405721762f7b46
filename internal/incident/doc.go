// Package incident is the business boundary for event ingestion. It defines
// the Pipeline (features, score, explanation, correlation), the Correlator and
// aggregate maintenance for incidents, the ingest Service (idempotency,
// persistence, notification), the Store interfaces and the domain models.
package incident
