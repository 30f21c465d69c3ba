package services

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/ports/driven"
	"github.com/custodia-labs/chatguard/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyServerAddr         = "server.addr"
	keyLLMProvider        = "llm.provider"
	keyLLMModel           = "llm.model"
	keyLLMBaseURL         = "llm.base_url"
	keyLLMAPIKey          = "llm.api_key"
	keyLLMTimeout         = "llm.timeout_seconds"
	keyLLMRate            = "llm.requests_per_second"
	keyFilterTermsFile    = "filter.terms_file"
	keyFilterTerms        = "filter.terms"
	keyFilterWatch        = "filter.watch"
	keyKnowledgeFile      = "knowledge.file"
	keyKnowledgeTopK      = "knowledge.top_k"
	keyKnowledgeThreshold = "knowledge.threshold"
	keyKnowledgeMaxDF     = "knowledge.max_doc_freq"
	keyStorageDriver      = "storage.driver"
	keyStorageDataDir     = "storage.data_dir"
	keySessionClientIDs   = "session.client_ids"
	keyChatFallback       = "chat.fallback_message"
)

// envPrefix prefixes environment overrides, e.g. CHATGUARD_LLM_MODEL.
const envPrefix = "CHATGUARD_"

// openAIKeyEnv is consulted when no API key is configured.
const openAIKeyEnv = "OPENAI_API_KEY"

// SettingsService builds application settings from the config store.
// Environment variables take precedence over stored values.
type SettingsService struct {
	configStore driven.ConfigStore
	lookupEnv   func(string) (string, bool)
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		lookupEnv:   os.LookupEnv,
	}
}

// Get retrieves current application settings.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	defaults := domain.DefaultAppSettings()

	apiKey := s.getString(keyLLMAPIKey, "")
	if apiKey == "" {
		if v, ok := s.lookupEnv(openAIKeyEnv); ok {
			apiKey = v
		}
	}

	settings := &domain.AppSettings{
		Server: domain.ServerSettings{
			Addr: s.getString(keyServerAddr, defaults.Server.Addr),
		},
		LLM: domain.LLMSettings{
			Provider:          domain.AIProvider(s.getString(keyLLMProvider, defaults.LLM.Provider.String())),
			Model:             s.getString(keyLLMModel, defaults.LLM.Model),
			BaseURL:           s.getString(keyLLMBaseURL, ""),
			APIKey:            apiKey,
			Timeout:           time.Duration(s.getInt(keyLLMTimeout, int(defaults.LLM.Timeout/time.Second))) * time.Second,
			RequestsPerSecond: s.getFloat(keyLLMRate, defaults.LLM.RequestsPerSecond),
		},
		Filter: domain.FilterSettings{
			TermsFile: s.getString(keyFilterTermsFile, ""),
			Terms:     s.getStringSlice(keyFilterTerms),
			Watch:     s.getBool(keyFilterWatch, defaults.Filter.Watch),
		},
		Knowledge: domain.KnowledgeSettings{
			File:       s.getString(keyKnowledgeFile, ""),
			TopK:       s.getInt(keyKnowledgeTopK, defaults.Knowledge.TopK),
			Threshold:  s.getFloat(keyKnowledgeThreshold, defaults.Knowledge.Threshold),
			MaxDocFreq: s.getFloat(keyKnowledgeMaxDF, defaults.Knowledge.MaxDocFreq),
		},
		Storage: domain.StorageSettings{
			Driver:  domain.StorageDriver(s.getString(keyStorageDriver, string(defaults.Storage.Driver))),
			DataDir: s.getString(keyStorageDataDir, ""),
		},
		Session: domain.SessionSettings{
			ClientIDs: s.getBool(keySessionClientIDs, defaults.Session.ClientIDs),
		},
		Chat: domain.ChatSettings{
			FallbackMessage: s.getString(keyChatFallback, defaults.Chat.FallbackMessage),
		},
	}

	return settings, nil
}

// Validate checks that the current settings are usable.
// All problems are reported together.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}

	var errs []error
	if !settings.LLM.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("%w: llm provider %q", domain.ErrUnsupportedType, settings.LLM.Provider))
	} else if settings.LLM.Provider.RequiresAPIKey() && settings.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: llm.api_key is required for provider %s",
			domain.ErrInvalidInput, settings.LLM.Provider))
	}
	if settings.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: llm.timeout_seconds must be positive", domain.ErrInvalidInput))
	}
	if settings.LLM.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("%w: llm.requests_per_second must not be negative", domain.ErrInvalidInput))
	}
	if settings.Knowledge.TopK < 1 {
		errs = append(errs, fmt.Errorf("%w: knowledge.top_k must be at least 1", domain.ErrInvalidInput))
	}
	if settings.Knowledge.Threshold < 0 || settings.Knowledge.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("%w: knowledge.threshold must be in [0, 1)", domain.ErrInvalidInput))
	}
	if !settings.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("%w: storage driver %q", domain.ErrUnsupportedType, settings.Storage.Driver))
	}
	return errors.Join(errs...)
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// envKey maps "llm.api_key" to "CHATGUARD_LLM_API_KEY".
func envKey(key string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (s *SettingsService) env(key string) (string, bool) {
	v, ok := s.lookupEnv(envKey(key))
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// getString returns a string value from env, config or the default.
func (s *SettingsService) getString(key, defaultVal string) string {
	if v, ok := s.env(key); ok {
		return v
	}
	if val := s.configStore.GetString(key); val != "" {
		return val
	}
	return defaultVal
}

// getInt returns an int value from env, config or the default.
func (s *SettingsService) getInt(key string, defaultVal int) int {
	if v, ok := s.env(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if _, exists := s.configStore.Get(key); exists {
		return s.configStore.GetInt(key)
	}
	return defaultVal
}

// getFloat returns a float value from env, config or the default.
func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if v, ok := s.env(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	if _, exists := s.configStore.Get(key); exists {
		return s.configStore.GetFloat(key)
	}
	return defaultVal
}

// getBool returns a bool value from env, config or the default.
func (s *SettingsService) getBool(key string, defaultVal bool) bool {
	if v, ok := s.env(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	if _, exists := s.configStore.Get(key); exists {
		return s.configStore.GetBool(key)
	}
	return defaultVal
}

// getStringSlice returns a list from env (comma separated) or config.
func (s *SettingsService) getStringSlice(key string) []string {
	if v, ok := s.env(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return s.configStore.GetStringSlice(key)
}
