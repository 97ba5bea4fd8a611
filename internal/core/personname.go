package core

import "strings"

// PersonName holds the components parsed from a combined name.
type PersonName struct {
	First  string
	Middle string
	Last   string
}

// ParsePersonName splits value according to format: "f l", "l f", "l, f",
// "f m l" or "l f m". The split happens at the first separator only when
// it is not the first character. Unknown formats, or values without a
// separator, yield the whole value as the last name.
func ParsePersonName(value, format string) PersonName {
	name := PersonName{Last: value}

	switch format {
	case "f l":
		if a, b, ok := splitName(value, " "); ok {
			name = PersonName{First: a, Last: b}
		}
	case "l f":
		if a, b, ok := splitName(value, " "); ok {
			name = PersonName{First: b, Last: a}
		}
	case "l, f":
		if a, b, ok := splitName(value, ","); ok {
			name = PersonName{First: b, Last: a}
		}
	case "f m l":
		if first, rest, ok := splitName(value, " "); ok {
			name = PersonName{First: first, Last: rest}
			if middle, last, ok := splitName(rest, " "); ok {
				name = PersonName{First: first, Middle: middle, Last: last}
			}
		}
	case "l f m":
		if last, rest, ok := splitName(value, " "); ok {
			name = PersonName{First: rest, Last: last}
			if first, middle, ok := splitName(rest, " "); ok {
				name = PersonName{First: first, Middle: middle, Last: last}
			}
		}
	}

	return name
}

func splitName(s, sep string) (string, string, bool) {
	pos := strings.Index(s, sep)
	if pos <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:pos]), strings.TrimSpace(s[pos+len(sep):]), true
}

// Filter returns a record filter matching the name components. The middle
// name is included only when one was parsed.
func (n PersonName) Filter() Filter {
	f := Filter{
		"firstName": nilIfEmpty(n.First),
		"lastName":  nilIfEmpty(n.Last),
	}
	if n.Middle != "" {
		f["middleName"] = n.Middle
	}
	return f
}

// Values maps the components to attribute names, omitting empty ones.
func (n PersonName) Values() map[string]string {
	out := make(map[string]string, 3)
	if n.First != "" {
		out["first"] = n.First
	}
	if n.Middle != "" {
		out["middle"] = n.Middle
	}
	if n.Last != "" {
		out["last"] = n.Last
	}
	return out
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
