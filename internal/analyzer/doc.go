// Package analyzer derives behavioural metrics from the access log:
// decayed frequency and regularity scores, next-access prediction,
// tier recommendations, and archival probability. Insights are cached
// in memory_behavioral_patterns once a memory has enough history.
package analyzer
