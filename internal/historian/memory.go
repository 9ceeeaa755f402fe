package historian

import (
	"context"
	"sync"
	"time"

	"github.com/awcullen/opcua/ua"
	deque "github.com/gammazero/deque"
)

// MemoryStore keeps the values in a ring per node. Everything is lost on exit.
type MemoryStore struct {
	sync.RWMutex
	series map[string]*deque.Deque[ua.DataValue]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[string]*deque.Deque[ua.DataValue])}
}

func (s *MemoryStore) Append(ctx context.Context, key string, value ua.DataValue) error {
	s.Lock()
	defer s.Unlock()
	q, ok := s.series[key]
	if !ok {
		q = &deque.Deque[ua.DataValue]{}
		s.series[key] = q
	}
	q.PushBack(value)
	return nil
}

func (s *MemoryStore) Range(ctx context.Context, key string, start, end time.Time, max int) ([]ua.DataValue, error) {
	s.RLock()
	defer s.RUnlock()
	res := []ua.DataValue{}
	q, ok := s.series[key]
	if !ok {
		return res, nil
	}
	for i := 0; i < q.Len(); i++ {
		v := q.At(i)
		if v.SourceTimestamp.Before(start) {
			continue
		}
		if v.SourceTimestamp.After(end) {
			break
		}
		res = append(res, v)
		if max > 0 && len(res) == max {
			break
		}
	}
	return res, nil
}

func (s *MemoryStore) Trim(ctx context.Context, key string, count int, before time.Time) error {
	s.Lock()
	defer s.Unlock()
	q, ok := s.series[key]
	if !ok {
		return nil
	}
	for count > 0 && q.Len() > count {
		q.PopFront()
	}
	for !before.IsZero() && q.Len() > 0 && q.Front().SourceTimestamp.Before(before) {
		q.PopFront()
	}
	return nil
}

// Len returns the number of values kept for key.
func (s *MemoryStore) Len(key string) int {
	s.RLock()
	defer s.RUnlock()
	if q, ok := s.series[key]; ok {
		return q.Len()
	}
	return 0
}

func (s *MemoryStore) Close() error { return nil }
