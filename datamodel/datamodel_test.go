package datamodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertionOrder(t *testing.T) {
	r := New().
		Str("model", "Test-Sensor").
		Int("id", 42).
		Float("temperature_C", "%.1f C", 21.5)
	keys := []string{}
	for _, f := range r.Fields() {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"model", "id", "temperature_C"}, keys)
}

func TestCondSuppression(t *testing.T) {
	r := New().
		Int("always", 1).
		Int("never", 2).Cond(false).
		Int("sometimes", 3).Cond(true)
	assert.Len(t, r.Fields(), 2)
	_, ok := r.Get("never")
	assert.False(t, ok)

	b, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"always":1,"sometimes":3}`, string(b))
}

func TestLabelAndFormat(t *testing.T) {
	r := New().Float("wind_avg_km_h", "", 12.25).Label("Wind speed").Format("%.2f km/h")
	f := r.Fields()[0]
	assert.Equal(t, "Wind speed", f.Label)
	assert.Equal(t, "12.25 km/h", f.Formatted())
}

func TestFormattedDefaults(t *testing.T) {
	r := New().
		Int("id", 7).
		Bytes("raw", []byte{0xDE, 0xAD})
	assert.Equal(t, "7", r.Fields()[0].Formatted())
	assert.Equal(t, "dead", r.Fields()[1].Formatted())
}

func TestNestedAndArray(t *testing.T) {
	inner := New().Int("x", 1)
	r := New().
		Sub("nested", inner).
		Array("list", []any{1, 2, 3})
	b, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"nested":{"x":1},"list":[1,2,3]}`, string(b))
}

func TestPrepend(t *testing.T) {
	r := New().Str("model", "X")
	r.Prepend("time", "2025-01-01 00:00:00")
	assert.Equal(t, "time", r.Fields()[0].Key)

	b, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"time":"2025-01-01 00:00:00","model":"X"}`, string(b))
}

func TestMarshalOrderIsStable(t *testing.T) {
	r := New().Str("b", "2").Str("a", "1")
	out, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"b":"2","a":"1"}`, string(out))
}
