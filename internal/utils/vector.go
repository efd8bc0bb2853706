package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VecToString formats a float slice into the PostgreSQL vector text format "[1,2.5,...]".
// Values are written with the shortest representation that round-trips.
func VecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector reads the text produced by VecToString (or by pgvector's embedding::text).
func ParseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float64{}, nil
	}

	parts := strings.Split(body, ",")
	vec := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("vector element %d: %w", i, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("vector element %d is not finite", i)
		}
		vec[i] = v
	}
	return vec, nil
}
