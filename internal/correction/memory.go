package correction

import (
	"sync"
	"time"

	"github.com/bottleneck-bots/botengine/internal/taxonomy"
)

// memoryCapPerKey bounds how many recovery records are kept per
// category:action pair; older entries are evicted first.
const memoryCapPerKey = 50

// RecoveryRecord remembers that a strategy once resolved a failure of a
// given category for a given action.
type RecoveryRecord struct {
	Category   taxonomy.Category `json:"category"`
	Action     string            `json:"action"`
	Strategy   taxonomy.Strategy `json:"strategy"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// Memory is the shared cross-run learning store. Consistency is best-effort:
// a racing append may be lost, the structure may never be corrupted, hence
// the single mutex.
type Memory struct {
	mu      sync.Mutex
	records map[string][]RecoveryRecord
}

// NewMemory creates an empty learning store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]RecoveryRecord)}
}

func memoryKey(category taxonomy.Category, action string) string {
	return string(category) + ":" + action
}

// Record appends a successful recovery, evicting the oldest entry for the
// key once the per-key cap is reached.
func (m *Memory) Record(category taxonomy.Category, action string, strategy taxonomy.Strategy) {
	record := RecoveryRecord{
		Category:   category,
		Action:     action,
		Strategy:   strategy,
		RecordedAt: time.Now(),
	}

	key := memoryKey(category, action)

	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append(m.records[key], record)
	if len(entries) > memoryCapPerKey {
		entries = entries[len(entries)-memoryCapPerKey:]
	}
	m.records[key] = entries
}

// SuccessfulStrategies returns the set of strategies that previously
// resolved this category:action pair.
func (m *Memory) SuccessfulStrategies(category taxonomy.Category, action string) map[taxonomy.Strategy]bool {
	key := memoryKey(category, action)

	m.mu.Lock()
	defer m.mu.Unlock()
	strategies := make(map[taxonomy.Strategy]bool)
	for _, record := range m.records[key] {
		strategies[record.Strategy] = true
	}
	return strategies
}

// Len reports how many records are stored for a category:action pair.
func (m *Memory) Len(category taxonomy.Category, action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[memoryKey(category, action)])
}
