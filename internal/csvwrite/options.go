// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package csvwrite serializes frames to CSV text. The writer is strictly
// single-threaded; callers that want parallelism encode disjoint frames on
// separate writers and concatenate the output.
package csvwrite

import (
	"errors"
	"fmt"
)

// QuoteStyle controls when fields are wrapped in the quote character.
type QuoteStyle int

const (
	// QuoteNecessary quotes a field only when it contains the separator,
	// the quote character, a CR/LF, or the line terminator.
	QuoteNecessary QuoteStyle = iota
	// QuoteAlways quotes every field.
	QuoteAlways
	// QuoteNonNumeric quotes every field that does not render as a number.
	QuoteNonNumeric
	// QuoteNever writes fields verbatim, even when ambiguous.
	QuoteNever
)

func (q QuoteStyle) String() string {
	switch q {
	case QuoteNecessary:
		return "necessary"
	case QuoteAlways:
		return "always"
	case QuoteNonNumeric:
		return "non_numeric"
	case QuoteNever:
		return "never"
	default:
		return "unknown"
	}
}

// ParseQuoteStyle converts a config string to a QuoteStyle.
func ParseQuoteStyle(s string) (QuoteStyle, error) {
	switch s {
	case "necessary", "":
		return QuoteNecessary, nil
	case "always":
		return QuoteAlways, nil
	case "non_numeric":
		return QuoteNonNumeric, nil
	case "never":
		return QuoteNever, nil
	default:
		return QuoteNecessary, fmt.Errorf("csvwrite: unknown quote style %q", s)
	}
}

// Default formats used when the corresponding option is left empty.
const (
	defaultDatetimeFormat = "2006-01-02T15:04:05.000000000"
	defaultDateFormat     = "2006-01-02"
	defaultTimeFormat     = "15:04:05.000000000"
)

// SerializeOptions is the CSV dialect. The zero value is not valid; start
// from DefaultSerializeOptions.
type SerializeOptions struct {
	Separator      byte
	QuoteChar      byte
	QuoteStyle     QuoteStyle
	LineTerminator string
	Null           string

	// Go time layouts. Empty selects the package defaults above.
	DatetimeFormat string
	DateFormat     string
	TimeFormat     string

	// FloatPrecision is the number of decimal digits, or -1 for the
	// shortest representation that round-trips.
	FloatPrecision int
	// FloatScientific forces scientific (true) or positional (false)
	// notation; nil lets the formatter decide.
	FloatScientific *bool
}

// DefaultSerializeOptions returns the standard comma dialect.
func DefaultSerializeOptions() SerializeOptions {
	return SerializeOptions{
		Separator:      ',',
		QuoteChar:      '"',
		QuoteStyle:     QuoteNecessary,
		LineTerminator: "\n",
		Null:           "",
		FloatPrecision: -1,
	}
}

func (o SerializeOptions) validate() error {
	if o.Separator == 0 {
		return errors.New("csvwrite: separator must be set")
	}
	if o.QuoteChar == 0 {
		return errors.New("csvwrite: quote char must be set")
	}
	if o.Separator == o.QuoteChar {
		return errors.New("csvwrite: separator and quote char must differ")
	}
	if o.LineTerminator == "" {
		return errors.New("csvwrite: line terminator must be set")
	}
	return nil
}

func (o SerializeOptions) datetimeFormat() string {
	if o.DatetimeFormat != "" {
		return o.DatetimeFormat
	}
	return defaultDatetimeFormat
}

func (o SerializeOptions) dateFormat() string {
	if o.DateFormat != "" {
		return o.DateFormat
	}
	return defaultDateFormat
}

func (o SerializeOptions) timeFormat() string {
	if o.TimeFormat != "" {
		return o.TimeFormat
	}
	return defaultTimeFormat
}
