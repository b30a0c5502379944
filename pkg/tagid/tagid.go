// Package tagid holds the identifier of an RFID tag.
package tagid

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTagID = errors.New("invalid tag id")

// TagID is the raw byte content of a tag. Values are compared on their bytes,
// the textual form is always uppercase hex.
type TagID string

// Parse decodes a hex string with an even number of digits, case insensitive.
func Parse(s string) (TagID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTagID)
	}
	// whole bytes only, so String returns the parsed text in uppercase
	if len(s)%2 == 1 {
		return "", fmt.Errorf("%w: %q: odd number of hex digits", ErrInvalidTagID, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidTagID, s, err)
	}
	return TagID(b), nil
}

func MustParse(s string) TagID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

func FromBytes(b []byte) TagID {
	return TagID(b)
}

func (t TagID) Bytes() []byte {
	return []byte(t)
}

func (t TagID) String() string {
	return strings.ToUpper(hex.EncodeToString([]byte(t)))
}

func (t TagID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TagID) UnmarshalText(text []byte) error {
	id, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = id
	return nil
}

func (t TagID) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TagID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTagID, err)
	}
	return t.UnmarshalText([]byte(s))
}
