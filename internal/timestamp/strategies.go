package timestamp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Bounds of a representable instant: years 0001 through 9999.
var (
	minUnix = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxUnix = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC).Unix()
)

// isoLayout matches 2024-05-01T07:00:00.000Z. time.Parse treats the fraction
// as optional and unbounded, so ISO8601UTC checks it separately.
const isoLayout = "2006-01-02T15:04:05.999999Z"

// maxFractionDigits is the most fractional-second digits ISO8601UTC accepts.
const maxFractionDigits = 6

// msDigitThreshold is the integer digit count above which a numeric string is
// taken as milliseconds.
const msDigitThreshold = 10

// NumericEpoch handles JSON numbers and Go numeric types. The value is tried
// as epoch seconds first and as milliseconds when seconds are out of range.
type NumericEpoch struct{}

// Name implements Strategy.
func (NumericEpoch) Name() string { return "numeric_epoch" }

// Parse implements Strategy.
func (NumericEpoch) Parse(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return fromIntSeconds(i)
		}
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromFloatSeconds(f)
	case int:
		return fromIntSeconds(int64(v))
	case int32:
		return fromIntSeconds(int64(v))
	case int64:
		return fromIntSeconds(v)
	case uint32:
		return fromIntSeconds(int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return time.Time{}, false
		}
		return fromIntSeconds(int64(v))
	case float32:
		return fromFloatSeconds(float64(v))
	case float64:
		return fromFloatSeconds(v)
	}
	return time.Time{}, false
}

func fromIntSeconds(v int64) (time.Time, bool) {
	if inRange(float64(v)) {
		return time.Unix(v, 0).UTC(), true
	}
	ms := float64(v) / 1000
	if inRange(ms) {
		return time.UnixMilli(v).UTC(), true
	}
	return time.Time{}, false
}

func fromFloatSeconds(v float64) (time.Time, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	if inRange(v) {
		return unixFloat(v), true
	}
	if inRange(v / 1000) {
		return unixFloat(v / 1000), true
	}
	return time.Time{}, false
}

// ISO8601UTC handles strings such as 2024-05-01T07:00:00.000Z. The fraction
// is required and holds one to six digits.
type ISO8601UTC struct{}

// Name implements Strategy.
func (ISO8601UTC) Name() string { return "iso8601_utc" }

// Parse implements Strategy.
func (ISO8601UTC) Parse(raw any) (time.Time, bool) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if !validFraction(s) {
		return time.Time{}, false
	}
	t, err := time.Parse(isoLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// validFraction reports whether s has ".f{1,6}Z" after the seconds field.
func validFraction(s string) bool {
	const secondsEnd = len("2006-01-02T15:04:05")
	if len(s) < secondsEnd+3 || s[secondsEnd] != '.' || s[len(s)-1] != 'Z' {
		return false
	}
	frac := s[secondsEnd+1 : len(s)-1]
	if len(frac) > maxFractionDigits {
		return false
	}
	for i := 0; i < len(frac); i++ {
		if frac[i] < '0' || frac[i] > '9' {
			return false
		}
	}
	return true
}

// NumericString handles epoch values serialized as strings. More than ten
// integer digits means milliseconds. This is a heuristic and is kept as is:
// changing it would reinterpret data already on disk.
type NumericString struct{}

// Name implements Strategy.
func (NumericString) Name() string { return "numeric_string" }

// Parse implements Strategy.
func (NumericString) Parse(raw any) (time.Time, bool) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	if integerDigits(f) > msDigitThreshold {
		f /= 1000
	}
	if !inRange(f) {
		return time.Time{}, false
	}
	return unixFloat(f), true
}

// integerDigits counts the characters of the integer part, sign included.
func integerDigits(f float64) int {
	return len(strconv.FormatFloat(math.Trunc(f), 'f', 0, 64))
}

func inRange(sec float64) bool {
	return sec >= float64(minUnix) && sec <= float64(maxUnix)
}

// unixFloat converts fractional epoch seconds with microsecond resolution.
func unixFloat(sec float64) time.Time {
	whole := math.Floor(sec)
	micros := math.Round((sec - whole) * 1e6)
	return time.Unix(int64(whole), int64(micros)*int64(time.Microsecond)).UTC()
}
