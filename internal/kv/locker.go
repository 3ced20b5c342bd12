package kv

import "sync"

// Locker serializes read-modify-write sequences against a key
type Locker interface {
	// Lock blocks until the key is free and returns the matching unlock
	Lock(key string) (unlock func())
}

// NoopLocker never blocks. Overlapping toggles on one key may lose an update.
type NoopLocker struct{}

// Lock returns immediately
func (NoopLocker) Lock(string) func() { return func() {} }

// KeyedMutex holds one mutex per key. Different keys never contend.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty KeyedMutex
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// NewLocker returns a KeyedMutex when serialize is set, otherwise a NoopLocker
func NewLocker(serialize bool) Locker {
	if serialize {
		return NewKeyedMutex()
	}
	return NoopLocker{}
}
