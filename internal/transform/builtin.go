package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// HTTPDate is the RFC 1123 layout, always rendered in GMT, used for date attributes.
const HTTPDate = "Mon, 02 Jan 2006 15:04:05 GMT"

var dateLayouts = []string{
	HTTPDate,
	time.RFC1123,
	time.RFC1123Z,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// String coerces both directions to a Go string. nil and Undefined become "",
// the zero string, rather than the words "null" or "undefined".
var String = Transform{Name: "string", From: toString, To: toString}

// Integer coerces both directions to a float64 number. Input that is not
// numeric yields NaN, so results are float64 even for whole numbers:
// From(To(7)) is float64(7).
var Integer = Transform{Name: "integer", From: toNumber, To: toNumber}

// Boolean coerces both directions by truthiness.
var Boolean = Transform{Name: "boolean", From: toBoolean, To: toBoolean}

// Date maps timestamps to time.Time and renders time.Time as an HTTP date.
var Date = Transform{Name: "date", From: dateFrom, To: dateTo}

func toString(v any) any {
	switch x := v.(type) {
	case nil, undefined:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(HTTPDate)
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

func toNumber(v any) any {
	switch x := v.(type) {
	case nil:
		return float64(0)
	case undefined:
		return math.NaN()
	case bool:
		if x {
			return float64(1)
		}
		return float64(0)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return float64(0)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case time.Time:
		return float64(x.UnixMilli())
	}
	if f, ok := number(v); ok {
		return f
	}
	return math.NaN()
}

func toBoolean(v any) any {
	switch x := v.(type) {
	case nil, undefined:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}
	if f, ok := number(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

func dateFrom(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case undefined:
		return Undefined
	case time.Time:
		return x.UTC()
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return nil
	}
	if f, ok := number(v); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return time.UnixMilli(int64(f)).UTC()
	}
	return nil
}

func dateTo(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(HTTPDate)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(HTTPDate)
	case undefined:
		return Undefined
	}
	return nil
}

// number reports the float64 value of Go's numeric kinds.
func number(v any) (float64, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
