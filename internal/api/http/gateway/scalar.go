package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var errNotScalar = errors.New("expected a string, number or boolean")

// Scalar is a request field that accepts a JSON string, number or boolean and
// keeps its textual form. Ledger arguments are strings.
type Scalar struct {
	value string
	set   bool
}

// UnmarshalJSON implements json.Unmarshaler. JSON null leaves the field unset.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*s = Scalar{}

		return nil
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}

		*s = Scalar{value: v, set: true}

		return nil
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*s = Scalar{value: string(data), set: true}

		return nil
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}

		*s = Scalar{value: n.String(), set: true}

		return nil
	default:
		return fmt.Errorf("%w, got %s", errNotScalar, strconv.Quote(string(data)))
	}
}

// String returns the textual value.
func (s Scalar) String() string {
	return s.value
}

// Present reports whether the field carried a non-empty value.
func (s Scalar) Present() bool {
	return s.set && s.value != ""
}
