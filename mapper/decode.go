// Package mapper turns gateway rows into entities: column decoding, time parsing and side-loaded author names.
package mapper

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/types"
)

// layouts accepted for timestamps stored as text. sqlite keeps the go format, postgres json uses RFC3339.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	metricsType = reflect.TypeOf(types.Metrics{})
)

func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func timeHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if t != timeType {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		return ParseTime(v)
	case []byte:
		return ParseTime(string(v))
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}
	return data, nil
}

func metricsHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if t != metricsType {
		return data, nil
	}
	switch data.(type) {
	case string, []byte, nil:
		m := types.Metrics{}
		err := m.Scan(data)
		return m, err
	}
	if f.Kind() == reflect.Slice && f.Elem().Kind() == reflect.Uint8 {
		// named byte slices like datatypes.JSON
		m := types.Metrics{}
		err := m.Scan(reflect.ValueOf(data).Bytes())
		return m, err
	}
	return data, nil
}

// Decode copies the columns of row into out, which must be a pointer to a struct with mapstructure tags.
// Numbers, booleans and strings are converted weakly since drivers disagree on their representation.
func Decode(row gateway.Row, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(timeHook, metricsHook),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]interface{}(row))
}

func decodeAll[T any](rows []gateway.Row) ([]T, error) {
	res := make([]T, 0, len(rows))
	for _, row := range rows {
		var item T
		err := Decode(row, &item)
		if err != nil {
			return nil, fmt.Errorf("decode row %s: %w", row.String("id"), err)
		}
		res = append(res, item)
	}
	return res, nil
}

// Distinct returns the distinct non-empty values of column, in order of first appearance.
func Distinct(rows []gateway.Row, column string) []string {
	seen := make(map[string]struct{}, len(rows))
	res := make([]string, 0, len(rows))
	for _, row := range rows {
		v := row.String(column)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		res = append(res, v)
	}
	return res
}

// tally counts rows per value of column.
func tally(rows []gateway.Row, column string) map[string]int {
	res := make(map[string]int)
	for _, row := range rows {
		res[row.String(column)]++
	}
	return res
}
