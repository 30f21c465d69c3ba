package knowledge

import (
	"strings"

	"github.com/custodia-labs/chatguard/internal/core/domain"
)

// Augment wraps query with the retrieved context. With no hits the query is
// returned unchanged.
func Augment(query string, hits []domain.RetrievalHit) string {
	if len(hits) == 0 {
		return query
	}

	var b strings.Builder
	b.WriteString("User question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer the question using the following knowledge base entries:\n")
	for i, hit := range hits {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[")
		b.WriteString(hit.Title)
		b.WriteString("]")
		b.WriteString(hit.Content)
	}
	b.WriteString("\n\nBase your answer only on the knowledge base entries above. ")
	b.WriteString("Do not make up information that is not in them.")
	return b.String()
}

// AugmentedQuery runs Query and Augment in one step.
func (idx *Index) AugmentedQuery(query string, topK int) (string, []domain.RetrievalHit) {
	hits := idx.Query(query, topK)
	return Augment(query, hits), hits
}
