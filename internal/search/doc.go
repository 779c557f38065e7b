// Package search implements the BM25 keyword engine over the FTS5
// index: query preprocessing, field-weighted scoring with recency,
// frequency, and tier priors, and a substring fallback when the FTS
// query is rejected.
package search
