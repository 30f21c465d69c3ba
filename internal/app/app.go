// Package app assembles the chat services from configuration.
package app

import (
	"errors"
	"fmt"

	"github.com/custodia-labs/chatguard/internal/adapters/driven/config/file"
	"github.com/custodia-labs/chatguard/internal/adapters/driven/llm"
	"github.com/custodia-labs/chatguard/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/chatguard/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/chatguard/internal/core/domain"
	"github.com/custodia-labs/chatguard/internal/core/filter"
	"github.com/custodia-labs/chatguard/internal/core/knowledge"
	"github.com/custodia-labs/chatguard/internal/core/ports/driven"
	"github.com/custodia-labs/chatguard/internal/core/services"
	"github.com/custodia-labs/chatguard/internal/logger"
)

// App holds the wired services and the resources they own.
type App struct {
	Settings        *domain.AppSettings
	SettingsService *services.SettingsService

	Matcher *filter.Holder
	Index   *knowledge.Index

	Chat    *services.ChatService
	History *services.HistoryService

	// Watcher reloads the term list. Nil unless filter.watch is set and a
	// terms file is configured.
	Watcher *file.TermWatcher

	store    driven.HistoryStore
	provider driven.CompletionProvider
}

// New loads settings from configDir (empty means ~/.chatguard) and builds
// every service. A missing or unusable provider is not fatal: chat requests
// then receive the fallback message.
func New(configDir string) (*App, error) {
	configStore, err := file.NewConfigStore(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return NewFromConfig(configStore)
}

// NewFromConfig builds the services from an existing config store.
func NewFromConfig(configStore driven.ConfigStore) (*App, error) {
	settingsSvc := services.NewSettingsService(configStore)
	settings, err := settingsSvc.Get()
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := settingsSvc.Validate(); err != nil {
		if errors.Is(err, domain.ErrUnsupportedType) {
			return nil, fmt.Errorf("invalid settings: %w", err)
		}
		logger.Warn("settings: %v", err)
	}

	a := &App{
		Settings:        settings,
		SettingsService: settingsSvc,
	}

	terms, err := file.LoadTerms(settings.Filter.TermsFile, settings.Filter.Terms)
	if err != nil {
		return nil, err
	}
	a.Matcher = filter.NewHolder(filter.Build(terms))
	logger.Debug("loaded %d sensitive terms", len(terms))

	docs, err := file.LoadKnowledge(settings.Knowledge.File)
	if err != nil {
		return nil, err
	}
	a.Index = knowledge.BuildIndex(docs,
		knowledge.WithThreshold(settings.Knowledge.Threshold),
		knowledge.WithMaxDocFreq(settings.Knowledge.MaxDocFreq),
	)
	logger.Debug("indexed %d knowledge documents, %d terms", a.Index.Len(), a.Index.VocabularySize())

	a.store, err = openStore(settings.Storage)
	if err != nil {
		return nil, err
	}

	a.provider, err = llm.CreateProvider(&settings.LLM)
	if err != nil {
		a.store.Close()
		return nil, fmt.Errorf("creating completion provider: %w", err)
	}
	if a.provider == nil {
		logger.Warn("no completion provider configured, replies will use the fallback message")
	}

	a.Chat = services.NewChatService(a.Matcher, a.Index, a.provider, a.store, services.ChatConfig{
		TopK:             settings.Knowledge.TopK,
		FallbackMessage:  settings.Chat.FallbackMessage,
		ClientSessionIDs: settings.Session.ClientIDs,
	})
	a.History = services.NewHistoryService(a.store)

	if settings.Filter.Watch && settings.Filter.TermsFile != "" {
		a.Watcher = file.NewTermWatcher(settings.Filter.TermsFile, settings.Filter.Terms, a.Matcher)
	}

	return a, nil
}

func openStore(s domain.StorageSettings) (driven.HistoryStore, error) {
	switch s.Driver {
	case domain.StorageDriverMemory:
		return memory.NewHistoryStore(), nil
	case domain.StorageDriverSQLite, "":
		store, err := sqlite.NewStore(s.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening history database: %w", err)
		}
		logger.Debug("chat history at %s", store.Path())
		return store, nil
	default:
		return nil, fmt.Errorf("%w: storage driver %q", domain.ErrUnsupportedType, s.Driver)
	}
}

// Close releases the provider and the history store.
func (a *App) Close() error {
	var errs []error
	if a.provider != nil {
		errs = append(errs, a.provider.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
