package model

import (
	"encoding/json"
	"fmt"
)

// Status is the race status shown to the public
type Status int

const (
	StatusNoResults Status = iota
	StatusPreResults
	StatusOk
	StatusFinalHour
	StatusFinalScore
	StatusTempFailure
	StatusPermFailure
	StatusEmergency
	StatusItsComplicated
)

var statusNames = map[Status]string{
	StatusNoResults:      "NoResults",
	StatusPreResults:     "PreResults",
	StatusOk:             "Ok",
	StatusFinalHour:      "FinalHour",
	StatusFinalScore:     "FinalScore",
	StatusTempFailure:    "TempFailure",
	StatusPermFailure:    "PermFailure",
	StatusEmergency:      "Emergency",
	StatusItsComplicated: "ItsComplicated",
}

// IsPublic reports whether standings may be shown while in this status.
// During FinalHour the standings are hidden.
func (s Status) IsPublic() bool {
	switch s {
	case StatusNoResults, StatusPreResults, StatusFinalHour:
		return false
	default:
		return true
	}
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func ParseStatus(s string) (Status, error) {
	for k, v := range statusNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	n, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return json.Marshal(n)
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	v, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
