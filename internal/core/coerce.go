package core

// coerce.go converts raw CSV strings to typed attribute values.
//
// Coercion is lenient: unparseable dates become nil and malformed numbers
// become zero, so one bad cell never aborts a run. The exception is a JSON
// object column, whose value cannot be defaulted safely.

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Output layouts for stored date values.
const (
	DateLayout     = "2006-01-02"
	DatetimeLayout = "2006-01-02 15:04:05"
)

// dateFormats maps user-facing date patterns to Go layouts. Day and month
// accept one or two digits.
var dateFormats = map[string]string{
	"YYYY-MM-DD": "2006-1-2",
	"DD-MM-YYYY": "2-1-2006",
	"MM-DD-YYYY": "1-2-2006",
	"MM/DD/YYYY": "1/2/2006",
	"DD/MM/YYYY": "2/1/2006",
	"DD.MM.YYYY": "2.1.2006",
	"MM.DD.YYYY": "1.2.2006",
	"YYYY.MM.DD": "2006.1.2",
}

type timeFormat struct {
	layout   string
	meridiem bool // input is upper-cased so "am" and "AM" both parse
}

var timeFormats = map[string]timeFormat{
	"HH:mm":    {layout: "15:04"},
	"HH:mm:ss": {layout: "15:04:05"},
	"hh:mm a":  {layout: "3:04 PM", meridiem: true},
	"hh:mma":   {layout: "3:04PM", meridiem: true},
	"hh:mm A":  {layout: "3:04 PM", meridiem: true},
	"hh:mmA":   {layout: "3:04PM", meridiem: true},
}

var (
	// leadingFloat matches the numeric prefix of a string.
	leadingFloat = regexp.MustCompile(`^\s*[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)
	leadingInt   = regexp.MustCompile(`^\s*[+-]?\d+`)
	// nonNumericChars are removed from the integer part of a float.
	nonNumericChars = regexp.MustCompile(`[^A-Za-z0-9\-]`)
)

// Coercer converts raw strings according to the date, time, number and
// timezone settings of a run.
type Coercer struct {
	dateLayout  string
	timeLayout  timeFormat
	decimalMark string
	loc         *time.Location
}

// NewCoercer builds a coercer from run options. Unknown date or time
// patterns fall back to the defaults and an unknown timezone to UTC.
func NewCoercer(opts Options) *Coercer {
	c := &Coercer{
		dateLayout:  dateFormats[DefaultDateFormat],
		timeLayout:  timeFormats[DefaultTimeFormat],
		decimalMark: DefaultDecimalMark,
		loc:         time.UTC,
	}
	if l, ok := dateFormats[opts.DateFormat]; ok {
		c.dateLayout = l
	}
	if tf, ok := timeFormats[opts.TimeFormat]; ok {
		c.timeLayout = tf
	}
	if opts.DecimalMark != "" {
		c.decimalMark = opts.DecimalMark
	}
	if opts.Timezone != "" {
		if loc, err := time.LoadLocation(opts.Timezone); err == nil {
			c.loc = loc
		}
	}
	return c
}

type coerceFunc func(c *Coercer, attr AttributeDef, raw string) (any, error)

var coercers map[AttributeType]coerceFunc

func init() {
	coercers = map[AttributeType]coerceFunc{
		AttrDate:       (*Coercer).toDate,
		AttrDatetime:   (*Coercer).toDatetime,
		AttrFloat:      (*Coercer).toFloat,
		AttrInt:        (*Coercer).toInt,
		AttrBool:       (*Coercer).toBool,
		AttrJSONObject: (*Coercer).toJSONObject,
		AttrJSONArray:  (*Coercer).toJSONArray,
		AttrVarchar:    (*Coercer).toVarchar,
	}
}

// Coerce converts raw for the attribute. Only a malformed JSON object
// returns an error; every other failure degrades to nil or a zero value.
func (c *Coercer) Coerce(attr AttributeDef, raw string) (any, error) {
	if fn, ok := coercers[attr.Type]; ok {
		return fn(c, attr, raw)
	}
	return raw, nil
}

func (c *Coercer) toDate(_ AttributeDef, raw string) (any, error) {
	t, err := time.Parse(c.dateLayout, raw)
	if err != nil {
		return nil, nil
	}
	return t.Format(DateLayout), nil
}

func (c *Coercer) toDatetime(_ AttributeDef, raw string) (any, error) {
	if c.timeLayout.meridiem {
		raw = strings.ToUpper(raw)
	}
	t, err := time.ParseInLocation(c.dateLayout+" "+c.timeLayout.layout, raw, c.loc)
	if err != nil {
		return nil, nil
	}
	return t.UTC().Format(DatetimeLayout), nil
}

func (c *Coercer) toFloat(_ AttributeDef, raw string) (any, error) {
	parts := strings.Split(raw, c.decimalMark)
	intPart := nonNumericChars.ReplaceAllString(parts[0], "")
	s := intPart
	if len(parts) > 1 {
		s = intPart + "." + parts[1]
	}
	return leadingFloatValue(s), nil
}

func (c *Coercer) toInt(_ AttributeDef, raw string) (any, error) {
	return leadingIntValue(raw), nil
}

func (c *Coercer) toBool(_ AttributeDef, raw string) (any, error) {
	return ParseBool(raw), nil
}

func (c *Coercer) toJSONObject(_ AttributeDef, raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStructuredValue, err)
	}
	return v, nil
}

func (c *Coercer) toJSONArray(_ AttributeDef, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	if raw[0] == '[' {
		var v []any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, nil
		}
		return v, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func (c *Coercer) toVarchar(attr AttributeDef, raw string) (any, error) {
	return Truncate(raw, attr.MaxLength), nil
}

// ParseBool is false only for "", "0" and a case-insensitive "false".
func ParseBool(raw string) bool {
	return raw != "" && raw != "0" && !strings.EqualFold(raw, "false")
}

// Truncate shortens s to at most max runes. A max of zero or less means
// no limit.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// leadingFloatValue parses the numeric prefix of s; no prefix yields 0.
func leadingFloatValue(s string) float64 {
	m := leadingFloat.FindString(s)
	if m == "" {
		return 0
	}
	m = strings.TrimSuffix(strings.TrimSpace(m), ".")
	d, err := decimal.NewFromString(m)
	if err != nil {
		f, ferr := strconv.ParseFloat(m, 64)
		if ferr != nil {
			return 0
		}
		return f
	}
	return d.InexactFloat64()
}

// leadingIntValue parses the integer prefix of s, saturating on overflow.
func leadingIntValue(s string) int64 {
	m := strings.TrimSpace(leadingInt.FindString(s))
	if m == "" {
		return 0
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		if strings.HasPrefix(m, "-") {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return n
}

// coercerCache reuses coercers across rows sharing the same settings.
type coercerCache struct {
	mu sync.Mutex
	m  map[coercerKey]*Coercer
}

type coercerKey struct {
	date, time, mark, tz string
}

func newCoercerCache() *coercerCache {
	return &coercerCache{m: make(map[coercerKey]*Coercer)}
}

func (c *coercerCache) get(opts Options) *Coercer {
	key := coercerKey{opts.DateFormat, opts.TimeFormat, opts.DecimalMark, opts.Timezone}
	c.mu.Lock()
	defer c.mu.Unlock()
	co, ok := c.m[key]
	if !ok {
		co = NewCoercer(opts)
		c.m[key] = co
	}
	return co
}
