// Package eventapi serves the event ingest and query HTTP API.
//
// All routes live under /api/v1 and speak JSON. POST /events runs the
// enrichment and correlation pipeline synchronously and returns the stored
// event; a repeat of an already stored event returns the original with 200.
package eventapi
