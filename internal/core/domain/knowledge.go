package domain

// KnowledgeDocument is a reference document available for retrieval.
type KnowledgeDocument struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// RetrievalHit is a knowledge document matched against a query.
type RetrievalHit struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}
