// mautrix-telegram - A Matrix-Telegram puppeting bridge.
// Copyright (C) 2025 Sumner Evans
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package tljson converts TL-encoded JSON values (as returned by
// help.getAppConfig) into plain Go values.
package tljson

import (
	"fmt"

	"github.com/gotd/td/tg"
)

// Parse recursively converts a tg.JSONValueClass into the Go values
// encoding/json would produce: bool, float64, string, nil, []any and
// map[string]any.
func Parse(value tg.JSONValueClass) (any, error) {
	switch typed := value.(type) {
	case *tg.JSONNull:
		return nil, nil
	case *tg.JSONBool:
		return typed.Value, nil
	case *tg.JSONNumber:
		return typed.Value, nil
	case *tg.JSONString:
		return typed.Value, nil
	case *tg.JSONArray:
		arr := make([]any, len(typed.Value))
		for i, item := range typed.Value {
			parsed, err := Parse(item)
			if err != nil {
				return nil, err
			}
			arr[i] = parsed
		}
		return arr, nil
	case *tg.JSONObject:
		obj := make(map[string]any, len(typed.Value))
		for _, entry := range typed.Value {
			parsed, err := Parse(entry.Value)
			if err != nil {
				return nil, err
			}
			obj[entry.Key] = parsed
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unexpected JSON value class %T", value)
	}
}
