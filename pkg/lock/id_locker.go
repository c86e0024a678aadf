package lock

import (
	"sync"

	"github.com/apex/log"
)

// IdLocker hands out one mutex per id. The assembler uses it keyed by
// upload session UUID so only one goroutine can assemble a session at a
// time.
type IdLocker struct {
	mapMutex sync.Mutex
	idMap    map[string]*sync.Mutex
}

func NewIdLocker() *IdLocker {
	return &IdLocker{
		idMap: make(map[string]*sync.Mutex),
	}
}

func (l *IdLocker) AcquireLock(id string) {
	l.mapMutex.Lock()
	idMutex, ok := l.idMap[id]
	if !ok {
		idMutex = &sync.Mutex{}
		l.idMap[id] = idMutex
	}
	l.mapMutex.Unlock()
	idMutex.Lock()
}

func (l *IdLocker) ReleaseLock(id string) {
	l.mapMutex.Lock()
	m, ok := l.idMap[id]
	l.mapMutex.Unlock()
	if !ok {
		log.Errorf("ReleaseLock called on id (%s) with no mutex", id)

		return
	}

	m.Unlock()
}

func (l *IdLocker) WithLock(id string, f func() error) error {
	l.AcquireLock(id)
	defer l.ReleaseLock(id)
	return f()
}
