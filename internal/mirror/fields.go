package mirror

import (
	"sort"
	"sync"
	"time"

	"github.com/awcullen/opcua/ua"
)

// Fields is the string keyed store behind the fields of an Object.
// The last Set or SetDataValue of a name wins.
type Fields struct {
	sync.RWMutex
	values map[string]ua.DataValue
	// declared slots that have not been assigned yet
	pending map[string]struct{}
}

func NewFields() *Fields {
	return &Fields{
		values:  make(map[string]ua.DataValue),
		pending: make(map[string]struct{}),
	}
}

// Declare adds a slot that waits for its first value. Existing slots are left untouched.
func (f *Fields) Declare(name string) {
	f.Lock()
	defer f.Unlock()
	if _, ok := f.values[name]; !ok {
		f.values[name] = ua.NewDataValue(nil, ua.BadWaitingForInitialData, time.Time{}, 0, time.Time{}, 0)
		f.pending[name] = struct{}{}
	}
}

// Has reports whether the slot exists.
func (f *Fields) Has(name string) bool {
	f.RLock()
	defer f.RUnlock()
	_, ok := f.values[name]
	return ok
}

// Get returns the value of name. ok is false for missing slots and for slots still
// waiting for their first value. Any assigned value counts, whatever its status.
func (f *Fields) Get(name string) (value ua.Variant, ok bool) {
	f.RLock()
	defer f.RUnlock()
	dv, ok := f.values[name]
	if _, waiting := f.pending[name]; !ok || waiting {
		return nil, false
	}
	return dv.Value, true
}

// DataValue returns the value of name with its status and timestamps.
func (f *Fields) DataValue(name string) (ua.DataValue, bool) {
	f.RLock()
	defer f.RUnlock()
	dv, ok := f.values[name]
	return dv, ok
}

// Set assigns a value stamped with the current time, creating the slot if needed.
func (f *Fields) Set(name string, value ua.Variant) {
	t := time.Now().UTC()
	f.SetDataValue(name, ua.NewDataValue(value, ua.Good, t, 0, t, 0))
}

// SetDataValue assigns value as is, creating the slot if needed.
func (f *Fields) SetDataValue(name string, value ua.DataValue) {
	f.Lock()
	f.values[name] = value
	delete(f.pending, name)
	f.Unlock()
}

// Names returns the sorted slot names.
func (f *Fields) Names() []string {
	f.RLock()
	names := make([]string, 0, len(f.values))
	for k := range f.values {
		names = append(names, k)
	}
	f.RUnlock()
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of all the slots.
func (f *Fields) Snapshot() map[string]ua.DataValue {
	f.RLock()
	defer f.RUnlock()
	res := make(map[string]ua.DataValue, len(f.values))
	for k, v := range f.values {
		res[k] = v
	}
	return res
}
