package mirror

import (
	"testing"
	"time"

	"github.com/awcullen/opcua/ua"
	"gotest.tools/assert"
)

func TestFieldsDeclareWaitsForFirstValue(t *testing.T) {
	f := NewFields()
	f.Declare("Intensity")

	assert.Assert(t, f.Has("Intensity"))
	_, ok := f.Get("Intensity")
	assert.Assert(t, !ok)
	dv, ok := f.DataValue("Intensity")
	assert.Assert(t, ok)
	assert.Equal(t, dv.StatusCode, ua.BadWaitingForInitialData)

	f.Set("Intensity", 3.14)
	v, ok := f.Get("Intensity")
	assert.Assert(t, ok)
	assert.Equal(t, v, 3.14)

	// declaring again keeps the value
	f.Declare("Intensity")
	v, _ = f.Get("Intensity")
	assert.Equal(t, v, 3.14)
}

func TestFieldsDeliveredValueCountsWhateverItsStatus(t *testing.T) {
	f := NewFields()
	f.Declare("Timestamp")

	// a node created without an initial value reports BadWaitingForInitialData itself
	f.SetDataValue("Timestamp", ua.NewDataValue("", ua.BadWaitingForInitialData, time.Time{}, 0, time.Time{}, 0))
	v, ok := f.Get("Timestamp")
	assert.Assert(t, ok)
	assert.Equal(t, v, "")
}

func TestFieldsNamesAndSnapshot(t *testing.T) {
	f := NewFields()
	f.Set("Timestamp", "t0")
	f.Declare("Label")
	f.Set("Intensity", 1.0)

	assert.DeepEqual(t, f.Names(), []string{"Intensity", "Label", "Timestamp"})
	snap := f.Snapshot()
	f.Set("Intensity", 2.0)
	assert.Equal(t, snap["Intensity"].Value, 1.0)
	assert.Equal(t, len(snap), 3)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, KindVariable.String(), "Variable")
	assert.Equal(t, KindProperty.String(), "Property")
	assert.Equal(t, KindObject.String(), "Object")
	assert.Equal(t, Kind(42).String(), "Other")
}
