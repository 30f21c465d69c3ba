package domain

import "time"

const unknownDescription = "Unknown"

// DefaultFallbackMessage is the assistant reply used when the provider fails.
const DefaultFallbackMessage = "Sorry, I am unable to help you right now. Please try again later."

// AIProvider identifies a completion provider.
type AIProvider string

// Available completion providers.
const (
	// AIProviderOpenAI is any OpenAI-compatible /chat/completions endpoint.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderOllama is a local Ollama instance.
	AIProviderOllama AIProvider = "ollama"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOpenAI, AIProviderOllama:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOpenAI:
		return "OpenAI-compatible (cloud)"
	case AIProviderOllama:
		return "Ollama (local)"
	default:
		return unknownDescription
	}
}

// StorageDriver selects the history store implementation.
type StorageDriver string

// Available storage drivers.
const (
	StorageDriverSQLite StorageDriver = "sqlite"
	StorageDriverMemory StorageDriver = "memory"
)

// IsValid returns true if the storage driver is recognised.
func (d StorageDriver) IsValid() bool {
	return d == StorageDriverSQLite || d == StorageDriverMemory
}

// ServerSettings configures the HTTP surface.
type ServerSettings struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string
}

// LLMSettings holds completion provider configuration.
type LLMSettings struct {
	// Provider is the completion service provider.
	Provider AIProvider

	// Model is the upstream model name sent to the provider.
	Model string

	// BaseURL is the API endpoint. Empty selects the provider default.
	BaseURL string

	// APIKey is the API key (for OpenAI-compatible providers).
	APIKey string

	// Timeout bounds one provider call, including a full stream.
	Timeout time.Duration

	// RequestsPerSecond throttles provider calls. Zero disables throttling.
	RequestsPerSecond float64
}

// IsConfigured returns true if the LLM provider is set up.
func (l LLMSettings) IsConfigured() bool {
	if !l.Provider.IsValid() {
		return false
	}
	if l.Provider.RequiresAPIKey() && l.APIKey == "" {
		return false
	}
	return true
}

// FilterSettings configures the sensitive-term matcher.
type FilterSettings struct {
	// TermsFile is a newline-separated term list. Empty uses the built-in list.
	TermsFile string

	// Terms are added to whatever TermsFile provides.
	Terms []string

	// Watch rebuilds the matcher when TermsFile changes.
	Watch bool
}

// KnowledgeSettings configures retrieval.
type KnowledgeSettings struct {
	// File is a JSON or YAML document list. Empty uses the built-in corpus.
	File string

	// TopK is the number of documents retrieved per query.
	TopK int

	// Threshold excludes hits with similarity at or below it.
	Threshold float64

	// MaxDocFreq drops terms present in more than this fraction of documents.
	MaxDocFreq float64
}

// StorageSettings configures chat history persistence.
type StorageSettings struct {
	Driver  StorageDriver
	DataDir string
}

// SessionSettings controls how session identifiers are assigned.
type SessionSettings struct {
	// ClientIDs accepts a caller-supplied session_id instead of always
	// generating a fresh one per request.
	ClientIDs bool
}

// ChatSettings configures the orchestrator.
type ChatSettings struct {
	// FallbackMessage replaces the assistant reply when the provider fails.
	FallbackMessage string
}

// AppSettings aggregates all application settings.
type AppSettings struct {
	Server    ServerSettings
	LLM       LLMSettings
	Filter    FilterSettings
	Knowledge KnowledgeSettings
	Storage   StorageSettings
	Session   SessionSettings
	Chat      ChatSettings
}

// DefaultAppSettings returns settings with sensible defaults.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Server: ServerSettings{
			Addr: ":8000",
		},
		LLM: LLMSettings{
			Provider: AIProviderOpenAI,
			Model:    DefaultModel,
			Timeout:  120 * time.Second,
		},
		Knowledge: KnowledgeSettings{
			TopK:       3,
			Threshold:  0.1,
			MaxDocFreq: 1.0,
		},
		Storage: StorageSettings{
			Driver: StorageDriverSQLite,
		},
		Chat: ChatSettings{
			FallbackMessage: DefaultFallbackMessage,
		},
	}
}
