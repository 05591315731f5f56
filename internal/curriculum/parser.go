// Package curriculum extracts the structured curriculum document from model
// output and encodes it back for export.
package curriculum

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ashureev/curriculum-designer/internal/domain"
)

// ErrMalformedOutput matches every parse failure.
var ErrMalformedOutput = errors.New("malformed model output")

// MalformedOutputError describes why model output could not be used.
type MalformedOutputError struct {
	Detail string
}

func (e *MalformedOutputError) Error() string {
	return "malformed model output: " + e.Detail
}

// Is lets errors.Is match ErrMalformedOutput.
func (e *MalformedOutputError) Is(target error) bool {
	return target == ErrMalformedOutput
}

var fenceTokens = []string{"```json", "```"}

// Clean removes Markdown code-fence tokens anywhere in text and trims the result.
func Clean(text string) string {
	for _, tok := range fenceTokens {
		text = strings.ReplaceAll(text, tok, "")
	}
	return strings.TrimSpace(text)
}

// Parse decodes raw model output into a Curriculum. Fences and surrounding
// whitespace are tolerated; anything that is not a single JSON object fails.
// Field shapes are coerced here, once, so downstream code sees a uniform value.
func Parse(raw string) (domain.Curriculum, error) {
	cleaned := Clean(raw)
	if cleaned == "" {
		return domain.Curriculum{}, &MalformedOutputError{Detail: "empty response"}
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return domain.Curriculum{}, &MalformedOutputError{Detail: err.Error()}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.Curriculum{}, &MalformedOutputError{Detail: "unexpected content after JSON document"}
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return domain.Curriculum{}, &MalformedOutputError{Detail: fmt.Sprintf("expected a JSON object, got %s", kindOf(v))}
	}
	return fromObject(obj), nil
}

// Encode returns the curriculum as pretty-printed JSON with two-space
// indentation, in schema field order.
func Encode(c domain.Curriculum) ([]byte, error) {
	c = Normalize(c)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode curriculum: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Normalize replaces nil slices with empty ones so encoded documents always
// carry arrays.
func Normalize(c domain.Curriculum) domain.Curriculum {
	out := domain.Curriculum{ProgramTitle: c.ProgramTitle, Semesters: make([]domain.Semester, 0, len(c.Semesters))}
	for _, s := range c.Semesters {
		ns := domain.Semester{Semester: s.Semester, Courses: make([]domain.Course, 0, len(s.Courses))}
		for _, course := range s.Courses {
			course.Topics = nonNil(course.Topics)
			course.LearningOutcomes = nonNil(course.LearningOutcomes)
			ns.Courses = append(ns.Courses, course)
		}
		out.Semesters = append(out.Semesters, ns)
	}
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func fromObject(obj map[string]any) domain.Curriculum {
	c := domain.Curriculum{
		ProgramTitle: asString(obj["program_title"]),
		Semesters:    []domain.Semester{},
	}
	for _, item := range asSlice(obj["semesters"]) {
		m, _ := item.(map[string]any)
		c.Semesters = append(c.Semesters, semesterFrom(m))
	}
	return c
}

func semesterFrom(m map[string]any) domain.Semester {
	s := domain.Semester{Semester: asInt(m["semester"]), Courses: []domain.Course{}}
	for _, item := range asSlice(m["courses"]) {
		cm, _ := item.(map[string]any)
		s.Courses = append(s.Courses, courseFrom(cm))
	}
	return s
}

func courseFrom(m map[string]any) domain.Course {
	return domain.Course{
		CourseName:       asString(m["course_name"]),
		Credits:          asCredits(m["credits"]),
		Topics:           asStrings(m["topics"]),
		LearningOutcomes: asStrings(m["learning_outcomes"]),
	}
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func asStrings(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			out = append(out, asString(item))
		}
	case string:
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}

func asInt(v any) int {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		if f, err := t.Float64(); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return int(f)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return i
		}
	}
	return 0
}

func asCredits(v any) domain.Credits {
	var c domain.Credits
	if v == nil {
		return c
	}
	b, err := json.Marshal(v)
	if err != nil {
		return c
	}
	_ = c.UnmarshalJSON(b)
	return c
}

func kindOf(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
