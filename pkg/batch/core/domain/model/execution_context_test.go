package model_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/pagebatch/pkg/batch/core/domain/model"
)

func TestExecutionContext_TypedAccessors(t *testing.T) {
	ec := model.NewExecutionContext()
	ec.PutString("reader.name", "customers")
	ec.PutInt("reader.page", 3)
	ec.PutLong("reader.read.count", math.MaxInt64)
	ec.PutDouble("ratio", 0.5)
	ec.Put("flag", true)

	assert.Equal(t, "customers", ec.GetStringOrDefault("reader.name", ""))
	assert.Equal(t, 3, ec.GetIntOrDefault("reader.page", -1))
	assert.EqualValues(t, math.MaxInt64, ec.GetLongOrDefault("reader.read.count", -1))
	assert.Equal(t, 0.5, ec.GetDoubleOrDefault("ratio", 0))
	b, ok := ec.GetBool("flag")
	assert.True(t, ok)
	assert.True(t, b)

	assert.Equal(t, "fallback", ec.GetStringOrDefault("missing", "fallback"))
	_, ok = ec.GetString("reader.page")
	assert.False(t, ok, "an int is not a string")
	_, ok = ec.GetInt("ratio")
	assert.False(t, ok, "a fractional value is not an integer")
	assert.Equal(t, []string{"flag", "ratio", "reader.name", "reader.page", "reader.read.count"}, ec.Keys())
}

func TestExecutionContext_DirtyTracking(t *testing.T) {
	ec := model.NewExecutionContext()
	assert.False(t, ec.IsDirty())

	ec.PutLong("count", 5)
	assert.True(t, ec.IsDirty())
	ec.ClearDirtyFlag()

	ec.PutLong("count", 5)
	assert.False(t, ec.IsDirty(), "storing an equal value does not dirty the context")

	ec.Put("count", nil)
	assert.True(t, ec.IsDirty())
	assert.False(t, ec.ContainsKey("count"))

	var nilEC *model.ExecutionContext
	assert.NotPanics(t, nilEC.ClearDirtyFlag)
	assert.False(t, nilEC.IsDirty())
	assert.Equal(t, 0, nilEC.Size())
}

func TestExecutionContext_JSONRoundTripKeepsInt64(t *testing.T) {
	ec := model.NewExecutionContext()
	ec.PutLong("reader.read.count", math.MaxInt64)
	ec.Put("reader.start.after", map[string]interface{}{"id": 42, "name": "x"})

	data, err := json.Marshal(ec)
	require.NoError(t, err)

	restored := model.NewExecutionContext()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.EqualValues(t, math.MaxInt64, restored.GetLongOrDefault("reader.read.count", 0))
	assert.False(t, restored.IsDirty())

	startAfter, ok := restored.GetMap("reader.start.after")
	require.True(t, ok)
	assert.Equal(t, json.Number("42"), startAfter["id"])
	assert.True(t, ec.Equal(restored))
}

func TestExecutionContext_ValueAndScan(t *testing.T) {
	ec := model.NewExecutionContextFrom(map[string]interface{}{"k": "v"})
	v, err := ec.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, v)

	scanned := model.NewExecutionContext()
	require.NoError(t, scanned.Scan([]byte(`{"k":"v"}`)))
	assert.Equal(t, "v", scanned.GetStringOrDefault("k", ""))
	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsEmpty())
	assert.Error(t, scanned.Scan(12))
}

func TestExecutionContext_CopyIsDeep(t *testing.T) {
	ec := model.NewExecutionContext()
	ec.Put("nested", map[string]interface{}{"id": 1})

	cp := ec.Copy()
	nested, _ := cp.GetMap("nested")
	nested["id"] = 2

	original, _ := ec.GetMap("nested")
	assert.Equal(t, 1, original["id"])

	merged := model.NewExecutionContext()
	merged.Merge(cp)
	assert.True(t, merged.Equal(cp))
	assert.True(t, merged.IsDirty())
}
