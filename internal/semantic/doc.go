// Package semantic implements the local lexical-semantic search
// engine: an in-process inverted index with TF-IDF document vectors,
// an n-gram index, and bounded query/vector caches. It needs no
// external models; everything is computed from the corpus itself.
package semantic
