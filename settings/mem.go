package settings

import (
	"sort"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"
)

// A MemStore is a Store held in memory.
type MemStore struct {
	mu sync.Mutex
	s  *structpb.Struct

	// persist, if set, is called with mu held after every change.
	persist func(s *structpb.Struct) error
}

func NewMemStore() *MemStore {
	return &MemStore{s: &structpb.Struct{Fields: map[string]*structpb.Value{}}}
}

func (m *MemStore) get(key string) *structpb.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.GetFields()[key]
}

func (m *MemStore) put(key string, v *structpb.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v == nil {
		delete(m.s.Fields, key)
	} else {
		m.s.Fields[key] = v
	}
	if m.persist == nil {
		return nil
	}
	return m.persist(m.s)
}

func (m *MemStore) GetString(key, def string) string {
	v, ok := m.get(key).GetKind().(*structpb.Value_StringValue)
	if !ok {
		return def
	}
	return v.StringValue
}

func (m *MemStore) PutString(key, v string) error {
	return m.put(key, structpb.NewStringValue(v))
}

func (m *MemStore) GetInt(key string, def int) int {
	v, ok := m.get(key).GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return def
	}
	return int(v.NumberValue)
}

func (m *MemStore) PutInt(key string, v int) error {
	return m.put(key, structpb.NewNumberValue(float64(v)))
}

func (m *MemStore) GetStringSet(key string) []string {
	l, ok := m.get(key).GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil
	}
	var set []string
	for _, v := range l.ListValue.GetValues() {
		if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			set = append(set, s.StringValue)
		}
	}
	sort.Strings(set)
	return set
}

// PutStringSet stores v sorted, without duplicates.
func (m *MemStore) PutStringSet(key string, v []string) error {
	set := append([]string(nil), v...)
	sort.Strings(set)
	vals := make([]*structpb.Value, 0, len(set))
	for i, s := range set {
		if i > 0 && set[i-1] == s {
			continue
		}
		vals = append(vals, structpb.NewStringValue(s))
	}
	return m.put(key, structpb.NewListValue(&structpb.ListValue{Values: vals}))
}

func (m *MemStore) Remove(key string) error {
	return m.put(key, nil)
}

// Keys returns every key, sorted.
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.s.Fields))
	for k := range m.s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
