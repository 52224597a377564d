package com

import (
	"errors"
	"sync"
)

// Map defines a concurrent-safe map structure.
type Map[K comparable, V any] struct {
	m  map[K]V
	mu sync.Mutex
}

var ErrNotFound = errors.New("not found")

func NewMap[K comparable, V any]() Map[K, V] { return Map[K, V]{m: make(map[K]V, 10)} }

func (m *Map[_, _]) Len() int          { m.mu.Lock(); defer m.mu.Unlock(); return len(m.m) }
func (m *Map[K, V]) Put(key K, v V)    { m.mu.Lock(); m.m[key] = v; m.mu.Unlock() }
func (m *Map[K, _]) RemoveByKey(key K) { m.mu.Lock(); delete(m.m, key); m.mu.Unlock() }

// Find searches for the first match by a specified key value,
// returns ErrNotFound otherwise.
func (m *Map[K, V]) Find(key K) (v V, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.m[key]; ok {
		return c, nil
	}
	return v, ErrNotFound
}

// PutIfAbsent stores v under the key only when there is no value
// accepted by the keep predicate already. It returns the value that
// stays in the map and whether it is the provided one.
func (m *Map[K, V]) PutIfAbsent(key K, v V, keep func(V) bool) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.m[key]; ok && (keep == nil || keep(old)) {
		return old, false
	}
	m.m[key] = v
	return v, true
}

// RemoveIf deletes the key only when the stored value passes the
// predicate (e.g. it is still the same instance).
func (m *Map[K, V]) RemoveIf(key K, fn func(V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.m[key]; ok && fn(old) {
		delete(m.m, key)
		return true
	}
	return false
}

// Values returns a snapshot of all the values.
func (m *Map[K, V]) Values() []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	vv := make([]V, 0, len(m.m))
	for _, v := range m.m {
		vv = append(vv, v)
	}
	return vv
}

type NetClient[K comparable] interface {
	Disconnect()
	Id() K
}

// NetMap is a map of network clients keyed by their ids.
type NetMap[K comparable, T NetClient[K]] struct{ Map[K, T] }

func NewNetMap[K comparable, T NetClient[K]]() NetMap[K, T] {
	return NetMap[K, T]{Map: NewMap[K, T]()}
}

func (m *NetMap[K, T]) Add(client T)    { m.Put(client.Id(), client) }
func (m *NetMap[K, T]) Remove(client T) { m.RemoveByKey(client.Id()) }

// DisconnectAll disconnects every client outside the lock.
func (m *NetMap[K, T]) DisconnectAll() {
	for _, c := range m.Values() {
		c.Disconnect()
	}
}
