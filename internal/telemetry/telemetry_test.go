package telemetry

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenNested(t *testing.T) {
	reading := Reading{
		Group("a", Leaf("b", 1), Leaf("c", 2)),
		Leaf("d", 3),
	}

	rec := Flatten(reading, "_")

	assert.Equal(t, []string{"a_b", "a_c", "d"}, rec.Keys())
	for name, want := range map[string]int64{"a_b": 1, "a_c": 2, "d": 3} {
		v, ok := rec.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, KindInt, v.Kind())
		assert.Equal(t, want, v.Int())
	}
}

func TestFlattenFlatReadingIsFixedPoint(t *testing.T) {
	reading := Reading{
		Leaf("battery_voltage", 52.4),
		Leaf("soc", 88),
		Leaf("mode", "SBU"),
	}

	rec := Flatten(reading, "_")

	fields := rec.Fields()
	require.Len(t, fields, len(reading))
	for i, n := range reading {
		assert.Equal(t, n.Key, fields[i].Name)
		assert.Equal(t, Coerce(n.Value), fields[i].Value)
	}
	assert.Equal(t, rec, Flatten(reading, "_"))
}

func TestFlattenDeepAndCustomSeparator(t *testing.T) {
	reading := Reading{
		Group("pv",
			Group("1", Leaf("voltage", 120.5), Leaf("current", 3.2)),
			Group("2", Leaf("voltage", 118.0)),
		),
		Group("empty"),
	}

	rec := Flatten(reading, ".")

	assert.Equal(t, []string{"pv.1.voltage", "pv.1.current", "pv.2.voltage"}, rec.Keys())
}

func TestFlattenDuplicateKeyKeepsFirstPosition(t *testing.T) {
	reading := Reading{
		Leaf("a_b", 1),
		Leaf("z", 0),
		Group("a", Leaf("b", 2)),
	}

	rec := Flatten(reading, "_")

	assert.Equal(t, []string{"a_b", "z"}, rec.Keys())
	v, _ := rec.Get("a_b")
	assert.Equal(t, int64(2), v.Int())
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want Value
	}{
		{"decimal string", "3.0", FloatValue(3.0)},
		{"integer string", "42", IntValue(42)},
		{"negative string", "-7", IntValue(-7)},
		{"non numeric", "n/a", StringValue("n/a")},
		{"dotted non numeric", "v1.2.3", StringValue("v1.2.3")},
		{"exponent without point", "1e5", StringValue("1e5")},
		{"empty string", "", StringValue("")},
		{"true", true, IntValue(1)},
		{"false", false, IntValue(0)},
		{"int", 5, IntValue(5)},
		{"uint16", uint16(65535), IntValue(65535)},
		{"huge uint64", uint64(math.MaxUint64), FloatValue(float64(math.MaxUint64))},
		{"float32", float32(1.5), FloatValue(1.5)},
		{"float64", 2.25, FloatValue(2.25)},
		{"nil", nil, StringValue("")},
		{"other", []int{1, 2}, StringValue("[1 2]")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coerce(tt.raw))
		})
	}
}

func TestCoerceIsIdempotent(t *testing.T) {
	for _, raw := range []any{"3.0", "42", "n/a", true, 7, 1.25, nil} {
		once := Coerce(raw)
		assert.Equal(t, once, Coerce(once), "raw %v", raw)
	}
}

func TestValueStringRoundTripsKind(t *testing.T) {
	for _, v := range []Value{FloatValue(3), FloatValue(0.1), IntValue(12), StringValue("x")} {
		assert.Equal(t, v, Coerce(v.String()), v.String())
	}
	assert.Equal(t, "3.0", FloatValue(3).String())
}

func TestMergeSkipsUnavailableAndRenamesCollisions(t *testing.T) {
	statuses := []SourceStatus{
		{Source: "inverter", Available: true, Record: NewFlatRecord(Field{"x", IntValue(1)}, Field{"y", IntValue(2)})},
		{Source: "broken", Err: ErrSourceUnavailable},
		{Source: "weather", Available: true, Record: NewFlatRecord(Field{"x", FloatValue(9.5)})},
	}

	rec := Merge(statuses, "_")

	assert.Equal(t, []string{"x", "y", "weather_x"}, rec.Keys())
	assert.Equal(t, []string{"inverter", "weather"}, AvailableSources(statuses))
}

func TestMergeRenameNeverOverwritesEarlierField(t *testing.T) {
	statuses := []SourceStatus{
		{Source: "inverter", Available: true, Record: NewFlatRecord(Field{"x", IntValue(1)}, Field{"weather_x", IntValue(2)})},
		{Source: "weather", Available: true, Record: NewFlatRecord(Field{"x", IntValue(3)})},
	}

	rec := Merge(statuses, "_")

	assert.Equal(t, []string{"x", "weather_x", "weather_weather_x"}, rec.Keys())
	v, _ := rec.Get("weather_x")
	assert.Equal(t, IntValue(2), v)
	v, _ = rec.Get("weather_weather_x")
	assert.Equal(t, IntValue(3), v)
}

func TestFlatRecordMarshalJSONKeepsOrder(t *testing.T) {
	rec := NewFlatRecord(
		Field{"z", IntValue(1)},
		Field{"a", StringValue("on")},
		Field{"m", FloatValue(math.NaN())},
	)

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":"on","m":null}`, string(b))
	assert.Equal(t, "z=1 a=on m=NaN", rec.String())
}
