// Package domain defines the core business entities for chatguard.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - ChatTurn: One persisted message in the append-only conversation log
//   - ChatRequest / ChatResponse: The inbound request and synchronous reply
//   - StreamUnit: One incremental piece of a streamed assistant reply
//   - KnowledgeDocument: A reference document available for retrieval
//   - RetrievalHit: A document matched against a query, with its similarity
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
