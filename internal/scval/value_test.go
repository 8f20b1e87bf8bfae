package scval

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_StringRendering(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		expected string
	}{
		{"null", Null(), ""},
		{"bool", Bool(true), "true"},
		{"int64", Int64(-42), "-42"},
		{"bigint", BigInt(big.NewInt(100000)), "100000"},
		{"bytes", Bytes("deadbeef"), "deadbeef"},
		{"text", Text("hello"), "hello"},
		{"opaque", Opaque("AAAouQ=="), "AAAouQ=="},
		{"sequence", Sequence([]Value{Int64(1), Text("two")}), `[1,"two"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.value.String())
		})
	}
}

func TestValue_GetOnNonMapping(t *testing.T) {
	_, ok := Text("scalar").Get("key")
	assert.False(t, ok)

	_, ok = Null().Get("key")
	assert.False(t, ok)
}

func TestValue_KeysSorted(t *testing.T) {
	v := Mapping(map[string]Value{
		"zebra":  Int64(1),
		"alpha":  Int64(2),
		"middle": Int64(3),
	})

	assert.Equal(t, []string{"alpha", "middle", "zebra"}, v.Keys())
}

func TestValue_Interface(t *testing.T) {
	v := Mapping(map[string]Value{
		"stream_id": BigInt(big.NewInt(42)),
		"active":    Bool(true),
		"topics":    Sequence([]Value{Text("a")}),
	})

	native := v.Interface()
	m, ok := native.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "42", m["stream_id"])
	assert.Equal(t, true, m["active"])
	assert.Equal(t, []interface{}{"a"}, m["topics"])
}

func TestValue_MarshalJSON(t *testing.T) {
	v := Mapping(map[string]Value{
		"amount": BigInt(big.NewInt(100000)),
		"open":   Bool(true),
	})

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"100000","open":true}`, string(data))
}
