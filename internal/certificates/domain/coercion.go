package certificates

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ColumnType is the declared type of a data-source column.
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnNumber  ColumnType = "number"
	ColumnBoolean ColumnType = "boolean"
	ColumnDate    ColumnType = "date"
	ColumnArray   ColumnType = "array"
)

// Valid reports whether t is one of the supported column types.
func (t ColumnType) Valid() bool {
	_, ok := converters[t]
	return ok
}

// converter turns a non-blank raw cell into its typed value, or reports it cannot.
type converter func(raw string) (any, bool)

var converters = map[ColumnType]converter{
	ColumnString:  convertString,
	ColumnNumber:  convertNumber,
	ColumnBoolean: convertBoolean,
	ColumnDate:    convertDate,
	ColumnArray:   convertString,
}

// numberPattern accepts integers, decimals and scientific notation.
var numberPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Mon, 02 Jan 2006 15:04:05 MST",
}

// IsBlank reports whether a raw value is empty after trimming.
func IsBlank(raw string) bool {
	return strings.TrimSpace(raw) == ""
}

// CanConvert reports whether raw text is acceptable for the declared type.
// Blank values are always acceptable.
func CanConvert(t ColumnType, raw string) bool {
	if IsBlank(raw) {
		return true
	}
	conv, ok := converters[t]
	if !ok {
		return false
	}
	_, ok = conv(raw)
	return ok
}

// Coerce converts raw text to the value stored for the declared type.
// Blank input yields "" for textual types and nil otherwise.
func Coerce(t ColumnType, raw string) (any, error) {
	conv, ok := converters[t]
	if !ok {
		return nil, Validation("unsupported column type %q", t)
	}
	if IsBlank(raw) {
		if t == ColumnString || t == ColumnArray {
			return "", nil
		}
		return nil, nil
	}
	value, ok := conv(raw)
	if !ok {
		return nil, Validation("value %q is not a valid %s", raw, t)
	}
	return value, nil
}

// RawText renders a stored value back to the text it was coerced from.
func RawText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

func convertString(raw string) (any, bool) {
	return raw, true
}

func convertNumber(raw string) (any, bool) {
	s := strings.TrimSpace(raw)
	if !numberPattern.MatchString(s) {
		return nil, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, false
	}
	return f, true
}

func convertBoolean(raw string) (any, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return nil, false
	}
}

func convertDate(raw string) (any, bool) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339), true
		}
	}
	return nil, false
}
