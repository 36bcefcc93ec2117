package neuron

import "sync"

// defaultAdjustmentCap bounds the number of adjustments kept per error-kind
// namespace: adjustments are monotone (never removed individually) but the
// namespace itself is bounded, so the oldest is evicted before the newest
// is appended once the cap is hit.
const defaultAdjustmentCap = 10

// PromptAdjuster holds the current base prompt plus a bounded, namespaced
// history of adjustments derived from backward gradients (§4.3e).
type PromptAdjuster struct {
	mu          sync.RWMutex
	basePrompt  string
	cap         int
	byNamespace map[string][]string
}

// NewPromptAdjuster constructs an adjuster seeded with basePrompt.
func NewPromptAdjuster(basePrompt string) *PromptAdjuster {
	return &PromptAdjuster{
		basePrompt:  basePrompt,
		cap:         defaultAdjustmentCap,
		byNamespace: make(map[string][]string),
	}
}

// Apply appends adjustment text under namespace (typically the gradient's
// error-kind tag), evicting the oldest entry in that namespace if the cap
// is reached.
func (a *PromptAdjuster) Apply(namespace string, adjustments []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	list := a.byNamespace[namespace]
	for _, adj := range adjustments {
		if len(list) >= a.cap {
			list = list[1:]
		}
		list = append(list, adj)
	}
	a.byNamespace[namespace] = list
}

// Render produces the effective base prompt: the seed prompt followed by
// every namespace's accumulated guideline text. Guidelines within a
// namespace keep insertion order; the order of namespaces relative to each
// other is not defined.
func (a *PromptAdjuster) Render() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := a.basePrompt
	for ns, adjustments := range a.byNamespace {
		for _, adj := range adjustments {
			out += "\n[guideline/" + ns + "] " + adj
		}
	}
	return out
}
