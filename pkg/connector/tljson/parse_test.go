package tljson_test

import (
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/mautrix-telegram/pkg/connector/tljson"
)

func TestParse(t *testing.T) {
	input := &tg.JSONObject{Value: []tg.JSONObjectValue{
		{Key: "null", Value: &tg.JSONNull{}},
		{Key: "bool", Value: &tg.JSONBool{Value: true}},
		{Key: "number", Value: &tg.JSONNumber{Value: 11}},
		{Key: "string", Value: &tg.JSONString{Value: "hi"}},
		{Key: "array", Value: &tg.JSONArray{Value: []tg.JSONValueClass{
			&tg.JSONNumber{Value: 1},
			&tg.JSONNumber{Value: 2},
		}}},
		{Key: "nested", Value: &tg.JSONObject{Value: []tg.JSONObjectValue{
			{Key: "inner", Value: &tg.JSONString{Value: "value"}},
		}}},
	}}

	parsed, err := tljson.Parse(input)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"null":   nil,
		"bool":   true,
		"number": float64(11),
		"string": "hi",
		"array":  []any{float64(1), float64(2)},
		"nested": map[string]any{"inner": "value"},
	}, parsed)
}
