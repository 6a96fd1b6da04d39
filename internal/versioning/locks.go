package versioning

import "sync"

// ProjectLocks serializes writers per project. Entries are reference counted
// and dropped once no goroutine holds or waits for them.
type ProjectLocks struct {
	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	mu   sync.Mutex
	refs int
}

// NewProjectLocks creates an empty lock table.
func NewProjectLocks() *ProjectLocks {
	return &ProjectLocks{locks: make(map[string]*projectLock)}
}

// Lock blocks until the project's lock is held and returns its release
// function.
func (l *ProjectLocks) Lock(projectID string) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.locks[projectID]
	if !ok {
		pl = &projectLock{}
		l.locks[projectID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			pl.mu.Unlock()
			l.mu.Lock()
			pl.refs--
			if pl.refs == 0 {
				delete(l.locks, projectID)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of projects with a held or awaited lock.
func (l *ProjectLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
