package core

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Defaults applied to options left empty by the caller.
const (
	DefaultDelimiter        = ","
	DefaultTextQualifier    = `"`
	DefaultDateFormat       = "YYYY-MM-DD"
	DefaultTimeFormat       = "HH:mm"
	DefaultDecimalMark      = "."
	DefaultPersonNameFormat = "f l"
)

// Options configures a single run. The json tags double as the keys accepted
// by ParseOptions.
type Options struct {
	Delimiter             string         `json:"delimiter,omitempty"`
	TextQualifier         string         `json:"textQualifier,omitempty"`
	HeaderRow             bool           `json:"headerRow,omitempty"`
	Action                Action         `json:"action,omitempty"`
	UpdateBy              []int          `json:"updateBy,omitempty"`
	DefaultValues         map[string]any `json:"defaultValues,omitempty"`
	DateFormat            string         `json:"dateFormat,omitempty"`
	TimeFormat            string         `json:"timeFormat,omitempty"`
	DecimalMark           string         `json:"decimalMark,omitempty"`
	Timezone              string         `json:"timezone,omitempty"`
	Currency              string         `json:"currency,omitempty"`
	PersonNameFormat      string         `json:"personNameFormat,omitempty"`
	SkipDuplicateChecking bool           `json:"skipDuplicateChecking,omitempty"`
	SilentMode            bool           `json:"silentMode,omitempty"`
	IdleMode              bool           `json:"idleMode,omitempty"`
	ManualMode            bool           `json:"manualMode,omitempty"`
	StartFromLastIndex    bool           `json:"startFromLastIndex,omitempty"`
}

// ParseOptions decodes a loosely typed map (as sent by a browser form or a
// JSON body) into Options. Strings such as "1" or "true" are accepted for
// booleans and numeric strings for column indices.
func ParseOptions(raw map[string]any) (Options, error) {
	var opts Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		Result:           &opts,
	})
	if err != nil {
		return Options{}, fmt.Errorf("build options decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return Options{}, fmt.Errorf("%w: decode options: %v", ErrInvalidRequest, err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate rejects options the runner cannot honor.
func (o Options) Validate() error {
	switch o.Action {
	case "", ActionCreate, ActionUpdate, ActionCreateAndUpdate:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, o.Action)
	}
	for _, idx := range o.UpdateBy {
		if idx < 0 {
			return fmt.Errorf("%w: negative updateBy column %d", ErrInvalidRequest, idx)
		}
	}
	return nil
}

// WithDefaults returns a copy with every empty setting filled in.
func (o Options) WithDefaults() Options {
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	if o.TextQualifier == "" {
		o.TextQualifier = DefaultTextQualifier
	}
	if o.Action == "" {
		o.Action = ActionCreate
	}
	if o.DateFormat == "" {
		o.DateFormat = DefaultDateFormat
	}
	if o.TimeFormat == "" {
		o.TimeFormat = DefaultTimeFormat
	}
	if o.DecimalMark == "" {
		o.DecimalMark = DefaultDecimalMark
	}
	if o.PersonNameFormat == "" {
		o.PersonNameFormat = DefaultPersonNameFormat
	}
	return o
}

// Dialect returns the tokenizer settings described by the options.
func (o Options) Dialect() Dialect {
	return Dialect{
		Separator: ParseDelimiter(o.Delimiter),
		Quote:     firstRune(o.TextQualifier, '"'),
		EOL:       '\n',
	}
}

// Clone returns a deep copy so callers can rewrite flags without
// affecting a run in flight.
func (o Options) Clone() Options {
	c := o
	if o.UpdateBy != nil {
		c.UpdateBy = append([]int(nil), o.UpdateBy...)
	}
	if o.DefaultValues != nil {
		c.DefaultValues = make(map[string]any, len(o.DefaultValues))
		for k, v := range o.DefaultValues {
			c.DefaultValues[k] = v
		}
	}
	return c
}
