package com

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

type testClient struct {
	id           int
	c            int32
	disconnected bool
}

func (t *testClient) Id() string     { return fmt.Sprintf("%v", t.id) }
func (t *testClient) Disconnect()    { t.disconnected = true }
func (t *testClient) change(n int)   { atomic.AddInt32(&t.c, int32(n)) }
func (t *testClient) String() string { return t.Id() }

func TestPointerValue(t *testing.T) {
	m := NewNetMap[string, *testClient]()
	c := testClient{id: 1}
	m.Add(&c)
	c.change(100)
	fc, err := m.Find(c.Id())
	if err != nil {
		t.Fatalf("expected to find %v", c.Id())
	}
	if c.c != fc.c {
		t.Errorf("not expected change, o: %v != %v", c.c, fc.c)
	}
	m.Remove(&c)
	if _, err = m.Find(c.Id()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestPutIfAbsent(t *testing.T) {
	m := NewMap[string, *testClient]()
	a, b := &testClient{id: 1}, &testClient{id: 2}

	if v, ok := m.PutIfAbsent("x", a, nil); !ok || v != a {
		t.Errorf("expected a to be stored")
	}
	if v, ok := m.PutIfAbsent("x", b, nil); ok || v != a {
		t.Errorf("expected a to stay, got %v", v)
	}
	// replace stale values
	if v, ok := m.PutIfAbsent("x", b, func(v *testClient) bool { return !v.disconnected }); ok || v != a {
		t.Errorf("expected a to stay while alive")
	}
	a.disconnected = true
	if v, ok := m.PutIfAbsent("x", b, func(v *testClient) bool { return !v.disconnected }); !ok || v != b {
		t.Errorf("expected b to replace a stale value")
	}
}

func TestPutIfAbsentConcurrent(t *testing.T) {
	m := NewMap[string, *testClient]()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, ok := m.PutIfAbsent("k", &testClient{id: i}, nil); ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %v", wins)
	}
}

func TestRemoveIf(t *testing.T) {
	m := NewMap[string, *testClient]()
	a, b := &testClient{id: 1}, &testClient{id: 2}
	m.Put("x", a)
	if m.RemoveIf("x", func(v *testClient) bool { return v == b }) {
		t.Errorf("should not remove another instance")
	}
	if !m.RemoveIf("x", func(v *testClient) bool { return v == a }) {
		t.Errorf("should remove the same instance")
	}
	if m.Len() != 0 {
		t.Errorf("should be empty")
	}
}

func TestDisconnectAll(t *testing.T) {
	m := NewNetMap[string, *testClient]()
	cc := []*testClient{{id: 1}, {id: 2}, {id: 3}}
	for _, c := range cc {
		m.Add(c)
	}
	m.DisconnectAll()
	for _, c := range cc {
		if !c.disconnected {
			t.Errorf("client %v is still connected", c)
		}
	}
}
