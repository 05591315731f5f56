// Package render projects session state into HTML views and downloadable
// files.
package render

import (
	"bytes"
	"html/template"
	"strconv"
	"strings"

	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Placeholder marks a missing field in rendered output.
const Placeholder = "—"

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// Markdown converts src to HTML. Raw HTML in src is not passed through.
func Markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return template.HTML("<pre>" + template.HTMLEscapeString(src) + "</pre>")
	}
	return template.HTML(buf.String())
}

// ChatBlock is one rendered conversation turn.
type ChatBlock struct {
	Role domain.Speaker `json:"role"`
	Text string         `json:"text"`
	HTML template.HTML  `json:"html"`
}

// RenderChat returns one block per turn, in order, without truncation.
func RenderChat(turns []domain.Turn) []ChatBlock {
	blocks := make([]ChatBlock, 0, len(turns))
	for _, t := range turns {
		blocks = append(blocks, ChatBlock{Role: t.Role, Text: t.Text, HTML: Markdown(t.Text)})
	}
	return blocks
}

// CurriculumView is the display form of a curriculum with placeholders applied.
type CurriculumView struct {
	Title     string         `json:"title"`
	Semesters []SemesterView `json:"semesters"`
}

// SemesterView is one displayed semester.
type SemesterView struct {
	Label   string       `json:"label"`
	Courses []CourseView `json:"courses"`
}

// CourseView is one displayed course.
type CourseView struct {
	Name     string   `json:"name"`
	Credits  string   `json:"credits"`
	Topics   []string `json:"topics"`
	Outcomes []string `json:"outcomes"`
}

// RenderCurriculum builds the display view. Missing title, course names,
// credits and semester numbers become Placeholder.
func RenderCurriculum(c domain.Curriculum) CurriculumView {
	v := CurriculumView{Title: orPlaceholder(c.ProgramTitle), Semesters: make([]SemesterView, 0, len(c.Semesters))}
	for _, s := range c.Semesters {
		sv := SemesterView{Label: "Semester " + semesterNumber(s.Semester), Courses: make([]CourseView, 0, len(s.Courses))}
		for _, course := range s.Courses {
			sv.Courses = append(sv.Courses, CourseView{
				Name:     orPlaceholder(course.CourseName),
				Credits:  orPlaceholder(course.Credits.String()),
				Topics:   nonNil(course.Topics),
				Outcomes: nonNil(course.LearningOutcomes),
			})
		}
		v.Semesters = append(v.Semesters, sv)
	}
	return v
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}

func semesterNumber(n int) string {
	if n <= 0 {
		return Placeholder
	}
	return strconv.Itoa(n)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
