package processor

import "sync"

// RunContext carries state for one pipeline run: values computed once per
// run and the words dropped from the query. It never outlives the run, so
// configuration changes take effect on the next one.
type RunContext struct {
	mu      sync.Mutex
	memo    map[string]any
	ignored []string
}

func NewRunContext() *RunContext {
	return &RunContext{memo: make(map[string]any)}
}

// Memo returns the value stored under key, computing it with fn on first
// use. Errors are not cached.
func Memo[T any](rc *RunContext, key string, fn func() (T, error)) (T, error) {
	rc.mu.Lock()
	if v, ok := rc.memo[key]; ok {
		rc.mu.Unlock()
		return v.(T), nil
	}
	rc.mu.Unlock()

	v, err := fn()
	if err != nil {
		var zero T
		return zero, err
	}
	rc.mu.Lock()
	rc.memo[key] = v
	rc.mu.Unlock()
	return v, nil
}

// Ignore records words dropped during the run.
func (rc *RunContext) Ignore(words ...string) {
	rc.mu.Lock()
	rc.ignored = append(rc.ignored, words...)
	rc.mu.Unlock()
}

// Ignored returns the dropped words in encounter order.
func (rc *RunContext) Ignored() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]string(nil), rc.ignored...)
}

func (rc *RunContext) ResetIgnored() {
	rc.mu.Lock()
	rc.ignored = nil
	rc.mu.Unlock()
}
