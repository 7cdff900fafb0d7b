package item

import "sync"

// Metadata holds the key/value pairs pipeline stages hand to later stages,
// keyed by the index of the stage that wrote them.
type Metadata struct {
	mu     sync.RWMutex
	stages map[int]map[string]string
}

func (m *Metadata) Set(stage int, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stages == nil {
		m.stages = make(map[int]map[string]string)
	}
	bag, ok := m.stages[stage]
	if !ok {
		bag = make(map[string]string)
		m.stages[stage] = bag
	}
	bag[key] = value
}

func (m *Metadata) Get(stage int, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.stages[stage][key]
	return value, ok
}

// Stage returns a copy of everything stored by one stage.
func (m *Metadata) Stage(stage int) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.stages[stage]))
	for k, v := range m.stages[stage] {
		out[k] = v
	}
	return out
}

func (m *Metadata) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stages)
}

func (m *Metadata) Clear() {
	m.mu.Lock()
	m.stages = nil
	m.mu.Unlock()
}
