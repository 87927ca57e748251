package schema

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

var (
	dateRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe     = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}(\.\d+)?$`)
	intervalRe = regexp.MustCompile(`^P(\d+Y)?(\d+M)?(\d+D)?(T(\d+H)?(\d+M)?(\d+(\.\d+)?S)?)?$`)
)

// FindColumnViolation validates one value against one column's declared
// type. Returns a human-readable violation, or "" when the value conforms.
// Nil values never violate: nullability is a working-copy concern.
func (c ColumnSchema) FindColumnViolation(value any) string {
	if value == nil {
		return ""
	}
	switch c.DataType {
	case TypeInteger:
		return c.integerViolation(value)
	case TypeText:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected text, got %T", value)
		}
		return c.lengthViolation(len([]rune(s)))
	case TypeBlob:
		b, ok := value.([]byte)
		if !ok {
			return fmt.Sprintf("expected blob, got %T", value)
		}
		return c.lengthViolation(len(b))
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %T", value)
		}
	case TypeFloat, TypeNumeric:
		switch value.(type) {
		case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, string:
			// numeric accepts a decimal string representation
		default:
			return fmt.Sprintf("expected a number, got %T", value)
		}
	case TypeDate:
		return formatViolation(value, dateRe, "2006-01-02", "YYYY-MM-DD")
	case TypeTime:
		return formatViolation(value, timeRe, "15:04:05", "HH:MM:SS")
	case TypeDatetime, TypeTimestamp:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected an ISO 8601 timestamp string, got %T", value)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			if _, err := time.Parse("2006-01-02T15:04:05", s); err != nil {
				return fmt.Sprintf("%q is not an ISO 8601 timestamp", s)
			}
		}
	case TypeInterval:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected an ISO 8601 duration string, got %T", value)
		}
		if s == "P" || !intervalRe.MatchString(s) {
			return fmt.Sprintf("%q is not an ISO 8601 duration", s)
		}
	case TypeGeometry:
		switch value.(type) {
		case string, []byte:
		default:
			return fmt.Sprintf("expected wkb geometry, got %T", value)
		}
	}
	return ""
}

func (c ColumnSchema) integerViolation(value any) string {
	var v int64
	switch n := value.(type) {
	case int:
		v = int64(n)
	case int8:
		v = int64(n)
	case int16:
		v = int64(n)
	case int32:
		v = int64(n)
	case int64:
		v = n
	case uint64:
		if n > math.MaxInt64 {
			return fmt.Sprintf("%d overflows 64-bit integer", n)
		}
		v = int64(n)
	case float64:
		if n != math.Trunc(n) {
			return fmt.Sprintf("%v is not an integer", n)
		}
		v = int64(n)
	default:
		return fmt.Sprintf("expected integer, got %T", value)
	}
	size := 64
	if s, ok := c.ExtraTypeInfo["size"]; ok {
		switch n := s.(type) {
		case int:
			size = n
		case float64:
			size = int(n)
		}
	}
	if size >= 64 {
		return ""
	}
	limit := int64(1) << (size - 1)
	if v < -limit || v >= limit {
		return fmt.Sprintf("%d out of range for a %d-bit integer", v, size)
	}
	return ""
}

func (c ColumnSchema) lengthViolation(n int) string {
	cap, ok := c.ExtraTypeInfo["length"]
	if !ok {
		return ""
	}
	var limit int
	switch l := cap.(type) {
	case int:
		limit = l
	case float64:
		limit = int(l)
	default:
		return ""
	}
	if limit > 0 && n > limit {
		return fmt.Sprintf("length %d exceeds limit %d", n, limit)
	}
	return ""
}

func formatViolation(value any, re *regexp.Regexp, layout, human string) string {
	s, ok := value.(string)
	if !ok {
		return fmt.Sprintf("expected a %s string, got %T", human, value)
	}
	if !re.MatchString(s) {
		return fmt.Sprintf("%q does not match %s", s, human)
	}
	if _, err := time.Parse(layout, trimFraction(s)); err != nil {
		return fmt.Sprintf("%q is not a valid %s value", s, human)
	}
	return ""
}

func trimFraction(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i]
		}
	}
	return s
}

// SanitisePKs coerces primary-key values to their schema types. PK values
// may arrive as strings from CLI filters; a textual integer pk component
// must encode identically to the integer it names, or filters silently
// miss their features.
func (s *Schema) SanitisePKs(pkValues []any) []any {
	pkCols := s.PKColumns()
	out := make([]any, len(pkValues))
	for i, v := range pkValues {
		out[i] = v
		if i >= len(pkCols) {
			continue
		}
		str, isStr := v.(string)
		if !isStr {
			continue
		}
		switch pkCols[i].DataType {
		case TypeInteger:
			if n, err := strconv.ParseInt(str, 10, 64); err == nil {
				out[i] = n
			}
		case TypeFloat, TypeNumeric:
			if f, err := strconv.ParseFloat(str, 64); err == nil {
				out[i] = f
			}
		}
	}
	return out
}
