package participant

// Store exposes participant definitions to the services that build prompts.
type Store interface {
	List() []Definition
	FindByRole(role Role) (Definition, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Definition
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied definitions.
// Later definitions replace earlier ones with the same role.
func NewMemoryStore(items []Definition) *MemoryStore {
	store := &MemoryStore{}
	for _, item := range items {
		store.put(item)
	}
	return store
}

func (s *MemoryStore) put(def Definition) {
	for i, item := range s.items {
		if item.Role == def.Role {
			s.items[i] = def
			return
		}
	}
	s.items = append(s.items, def)
}

// List returns the configured definitions.
func (s *MemoryStore) List() []Definition {
	return append([]Definition(nil), s.items...)
}

// FindByRole looks up a definition by role.
func (s *MemoryStore) FindByRole(role Role) (Definition, bool) {
	for _, item := range s.items {
		if item.Role == role {
			return item, true
		}
	}
	return Definition{}, false
}
