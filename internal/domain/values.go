package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a money or quantity value. Sheet rows arrive with numbers, numeric
// strings and empty cells mixed together, so decoding is lenient; encoding is
// always a bare JSON number.
type Amount struct {
	decimal.Decimal
}

func NewAmount(v float64) Amount {
	return Amount{decimal.NewFromFloat(v)}
}

func NewAmountFromInt(v int64) Amount {
	return Amount{decimal.NewFromInt(v)}
}

func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{d}, nil
}

func (a Amount) Mul(b Amount) Amount { return Amount{a.Decimal.Mul(b.Decimal)} }
func (a Amount) Add(b Amount) Amount { return Amount{a.Decimal.Add(b.Decimal)} }

func (a Amount) Equal(b Amount) bool { return a.Decimal.Equal(b.Decimal) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseAmount(s)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("parse amount %s: %w", data, err)
	}
	*a = Amount{d}
	return nil
}

// Count is a whole-number stock level with the same lenient decoding as Amount.
type Count int

func (c *Count) UnmarshalJSON(data []byte) error {
	var a Amount
	if err := a.UnmarshalJSON(data); err != nil {
		return err
	}
	*c = Count(a.IntPart())
	return nil
}

// RowID identifies a product on the remote. The sheet backend sends row
// indexes as numbers; locally created products carry a "tmp-" marker until a
// snapshot replaces them.
type RowID string

const tempRowPrefix = "tmp-"

func (r RowID) IsTemporary() bool {
	return strings.HasPrefix(string(r), tempRowPrefix)
}

func (r RowID) String() string { return string(r) }

func (r RowID) MarshalJSON() ([]byte, error) {
	if r == "" {
		return []byte(`""`), nil
	}
	// Only canonical integers go out bare; "007" or "+5" stay strings.
	if n, err := strconv.ParseInt(string(r), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(r) {
		return []byte(r), nil
	}
	return json.Marshal(string(r))
}

func (r *RowID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RowID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("parse row id %s: %w", data, err)
	}
	*r = RowID(n.String())
	return nil
}

// Cell is a text column that the sheet backend may serialize as a number
// (sizes, mobile numbers, model codes).
type Cell string

func (c *Cell) UnmarshalJSON(data []byte) error {
	var id RowID
	if err := id.UnmarshalJSON(data); err != nil {
		return err
	}
	*c = Cell(id)
	return nil
}
