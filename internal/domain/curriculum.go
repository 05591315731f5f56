package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Curriculum is the structured program produced by the quick generator.
// Field order matches the exported JSON document.
type Curriculum struct {
	ProgramTitle string     `json:"program_title"`
	Semesters    []Semester `json:"semesters"`
}

// Semester groups the courses taught in one term.
type Semester struct {
	Semester int      `json:"semester"`
	Courses  []Course `json:"courses"`
}

// Course is a single course inside a semester.
type Course struct {
	CourseName       string   `json:"course_name"`
	Credits          Credits  `json:"credits"`
	Topics           []string `json:"topics"`
	LearningOutcomes []string `json:"learning_outcomes"`
}

// Credits holds a course credit value that the model may emit either as a
// JSON string or a JSON number. The original JSON kind is kept so that the
// value encodes back exactly as it was decoded.
type Credits struct {
	raw []byte
}

// TextCredits returns credits encoded as a JSON string.
func TextCredits(s string) Credits {
	b, _ := json.Marshal(s)
	return Credits{raw: b}
}

// NumberCredits returns credits encoded as a JSON number.
func NumberCredits(n float64) Credits {
	return Credits{raw: []byte(strconv.FormatFloat(n, 'f', -1, 64))}
}

// IsZero reports whether no credit value is present.
func (c Credits) IsZero() bool {
	return len(c.raw) == 0
}

// String returns the display form: strings unquoted, numbers as written.
func (c Credits) String() string {
	if c.IsZero() {
		return ""
	}
	if c.raw[0] == '"' {
		var s string
		if err := json.Unmarshal(c.raw, &s); err == nil {
			return s
		}
	}
	return string(c.raw)
}

// MarshalJSON implements json.Marshaler.
func (c Credits) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	return c.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. Any JSON value is accepted;
// null clears the value.
func (c *Credits) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		c.raw = nil
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return err
	}
	c.raw = buf.Bytes()
	return nil
}
