package txqueuetest

import "sync"

// failures maps an operation name to the error it should return.
type failures struct {
	mu   sync.Mutex
	errs map[string]error
}

func (f *failures) set(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	f.errs[op] = err
}

func (f *failures) get(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[op]
}
