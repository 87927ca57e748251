package schema

import "testing"

func TestFindColumnViolation(t *testing.T) {
	cases := []struct {
		name    string
		col     ColumnSchema
		value   any
		violate bool
	}{
		{"nil never violates", ColumnSchema{DataType: TypeInteger}, nil, false},
		{"integer ok", ColumnSchema{DataType: TypeInteger}, int64(7), false},
		{"integer from whole float", ColumnSchema{DataType: TypeInteger}, float64(7), false},
		{"integer from fractional float", ColumnSchema{DataType: TypeInteger}, 7.5, true},
		{"integer from text", ColumnSchema{DataType: TypeInteger}, "7", true},
		{"sized integer in range", ColumnSchema{DataType: TypeInteger, ExtraTypeInfo: map[string]any{"size": 8}}, int64(127), false},
		{"sized integer out of range", ColumnSchema{DataType: TypeInteger, ExtraTypeInfo: map[string]any{"size": 8}}, int64(128), true},
		{"text ok", ColumnSchema{DataType: TypeText}, "hello", false},
		{"text over length", ColumnSchema{DataType: TypeText, ExtraTypeInfo: map[string]any{"length": 3}}, "hello", true},
		{"text length counts runes", ColumnSchema{DataType: TypeText, ExtraTypeInfo: map[string]any{"length": 3}}, "héé", false},
		{"blob ok", ColumnSchema{DataType: TypeBlob}, []byte{1, 2}, false},
		{"blob wrong type", ColumnSchema{DataType: TypeBlob}, "nope", true},
		{"boolean ok", ColumnSchema{DataType: TypeBoolean}, true, false},
		{"boolean wrong type", ColumnSchema{DataType: TypeBoolean}, int64(1), true},
		{"float ok", ColumnSchema{DataType: TypeFloat}, 1.25, false},
		{"numeric decimal string", ColumnSchema{DataType: TypeNumeric}, "1.250", false},
		{"date ok", ColumnSchema{DataType: TypeDate}, "2024-02-29", false},
		{"date bad shape", ColumnSchema{DataType: TypeDate}, "2024-2-29", true},
		{"date impossible", ColumnSchema{DataType: TypeDate}, "2023-02-29", true},
		{"time ok", ColumnSchema{DataType: TypeTime}, "23:59:59.5", false},
		{"time bad", ColumnSchema{DataType: TypeTime}, "24:00:00", true},
		{"timestamp rfc3339", ColumnSchema{DataType: TypeTimestamp}, "2024-01-02T03:04:05Z", false},
		{"timestamp naive", ColumnSchema{DataType: TypeTimestamp}, "2024-01-02T03:04:05", false},
		{"timestamp garbage", ColumnSchema{DataType: TypeTimestamp}, "yesterday", true},
		{"interval ok", ColumnSchema{DataType: TypeInterval}, "P1Y2M3DT4H5M6S", false},
		{"interval time only", ColumnSchema{DataType: TypeInterval}, "PT30M", false},
		{"interval bare P", ColumnSchema{DataType: TypeInterval}, "P", true},
		{"geometry hex string", ColumnSchema{DataType: TypeGeometry}, "0101000000", false},
		{"geometry wrong type", ColumnSchema{DataType: TypeGeometry}, int64(1), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.col.FindColumnViolation(tc.value)
			if tc.violate && got == "" {
				t.Errorf("expected a violation for %v, got none", tc.value)
			}
			if !tc.violate && got != "" {
				t.Errorf("unexpected violation for %v: %s", tc.value, got)
			}
		})
	}
}
