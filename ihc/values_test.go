package ihc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceValueIsAbsent(t *testing.T) {
	var zero ResourceValue
	assert.True(t, zero.IsAbsent())
	assert.False(t, BoolValue(true).IsAbsent())
}

func TestFloatValueRounding(t *testing.T) {
	v := FloatValue(1.23456)
	require.Equal(t, KindFloat, v.Kind)
	assert.Equal(t, 1.23, v.Float)
}

func TestResourceValueString(t *testing.T) {
	cases := []struct {
		name string
		v    ResourceValue
		want string
	}{
		{"absent", ResourceValue{}, "<absent>"},
		{"bool", BoolValue(true), "true"},
		{"int", IntValue(42), "42"},
		{"float", FloatValue(3.5), "3.50"},
		{"enum", EnumValue("on"), "on"},
		{"timer", TimerValue(1500), "1500ms"},
		{"time", TimeValue(7, 30, 0), "07:30:00"},
		{"date", DateVal(2024, 12, 31), "2024-12-31"},
		{"datetime", DateTimeVal(2024, 12, 31, 23, 59, 0), "2024-12-31 23:59:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.v.String())
		})
	}
}
