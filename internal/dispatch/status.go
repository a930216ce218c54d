package dispatch

import "fmt"

// Status is the overall (or per-channel) dispatch status. Values are ordered by
// severity and only ever escalate.
type Status int

const (
	StatusSuccess Status = iota
	StatusPartialError
	StatusAllError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusPartialError:
		return "PartialError"
	case StatusAllError:
		return "AllError"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText renders the status name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus parses a status name.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "Success":
		return StatusSuccess, nil
	case "PartialError":
		return StatusPartialError, nil
	case "AllError":
		return StatusAllError, nil
	}
	return StatusSuccess, fmt.Errorf("unknown dispatch status %q", name)
}

// Escalate returns the more severe of s and to.
func (s Status) Escalate(to Status) Status {
	if to > s {
		return to
	}
	return s
}

// Aggregate folds channel results into the overall status. Zero attempts overall is a
// vacuous Success; attempts with zero successes is AllError.
func Aggregate(results []ChannelResult) Status {
	status := StatusSuccess
	issued, succeeded := 0, 0
	for _, r := range results {
		status = status.Escalate(r.Status)
		issued += r.Issued
		succeeded += r.Succeeded
	}
	if issued > 0 && succeeded == 0 {
		status = status.Escalate(StatusAllError)
	}
	return status
}
