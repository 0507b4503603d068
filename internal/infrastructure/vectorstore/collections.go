package vectorstore

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/amplifyco/novaagent/internal/domain/memory"

	"go.uber.org/zap"
)

// LanceDBCollectionProvider lazily instantiates one LanceDB table per
// named collection under a shared store root, implementing
// memory.CollectionProvider for the collective stores (identity,
// preferences, contacts) and the per-channel isolated stores.
type LanceDBCollectionProvider struct {
	root      string
	dimension int
	logger    *zap.Logger

	mu          sync.Mutex
	collections map[string]*LanceDBVectorStore
}

// NewLanceDBCollectionProvider creates a provider rooted at storeRoot
// (e.g. ~/.novaagent/memory/lancedb); each collection gets its own table
// within that single LanceDB database directory.
func NewLanceDBCollectionProvider(storeRoot string, dimension int, logger *zap.Logger) *LanceDBCollectionProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LanceDBCollectionProvider{
		root:        storeRoot,
		dimension:   dimension,
		logger:      logger,
		collections: make(map[string]*LanceDBVectorStore),
	}
}

// Collection returns (creating if necessary) the VectorStore for name.
func (p *LanceDBCollectionProvider) Collection(name string) (memory.VectorStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if store, ok := p.collections[name]; ok {
		return store, nil
	}

	store, err := NewLanceDBCollection(p.root, sanitizeTableName(name), p.dimension, p.logger)
	if err != nil {
		return nil, fmt.Errorf("open collection %q: %w", name, err)
	}
	p.collections[name] = store
	return store, nil
}

// CloseAll releases every opened collection's LanceDB resources.
func (p *LanceDBCollectionProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for name, store := range p.collections {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close collection %q: %w", name, err)
		}
	}
	return firstErr
}

func sanitizeTableName(name string) string {
	// LanceDB table names live as directory entries; keep it filesystem-safe.
	return filepath.Base(name)
}

// InMemoryCollectionProvider backs memory.CollectionProvider with
// InMemoryVectorStore instances — used in tests and for the "memory"
// store_type configuration option.
type InMemoryCollectionProvider struct {
	mu          sync.Mutex
	collections map[string]*memory.InMemoryVectorStore
}

// NewInMemoryCollectionProvider creates an in-process provider.
func NewInMemoryCollectionProvider() *InMemoryCollectionProvider {
	return &InMemoryCollectionProvider{collections: make(map[string]*memory.InMemoryVectorStore)}
}

// Collection returns (creating if necessary) the in-memory store for name.
func (p *InMemoryCollectionProvider) Collection(name string) (memory.VectorStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if store, ok := p.collections[name]; ok {
		return store, nil
	}
	store := memory.NewInMemoryVectorStore()
	p.collections[name] = store
	return store, nil
}
