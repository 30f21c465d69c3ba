package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// uriScheme is the custom URI scheme for chatguard resources.
	uriScheme = "chatguard://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	// Template for knowledge documents.
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "knowledge/{documentId}",
		Name:        "knowledge-document",
		Description: "Content of a reference document from the knowledge base",
		MIMEType:    "text/plain",
	}, s.handleKnowledgeResource)
}

// handleKnowledgeResource returns the title and content of a knowledge document.
func (s *Server) handleKnowledgeResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	// Extract documentId from URI: chatguard://knowledge/{documentId}
	docID := extractDocumentID(req.Params.URI)
	if docID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	doc, ok := s.ports.Knowledge.KnowledgeDocument(docID)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     doc.Title + "\n\n" + doc.Content,
		}},
	}, nil
}

// extractDocumentID extracts the document ID from a URI like chatguard://knowledge/{documentId}.
func extractDocumentID(uri string) string {
	const prefix = uriScheme + "knowledge/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	return strings.TrimPrefix(uri, prefix)
}
