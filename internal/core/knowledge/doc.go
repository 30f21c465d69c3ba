// Package knowledge retrieves reference documents relevant to a query.
//
// An Index is a TF-IDF vector space built once over a small corpus. Queries
// are projected into the existing vocabulary and ranked by cosine similarity.
// The index is read-only after BuildIndex and safe for concurrent queries.
package knowledge
