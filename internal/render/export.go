package render

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/curriculum-designer/internal/curriculum"
	"github.com/ashureev/curriculum-designer/internal/domain"
	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"
)

// Export describes a downloadable artifact.
type Export struct {
	Filename    string
	ContentType string
}

// Download descriptors, keyed by the route name used in URLs.
var (
	NotesExport      = Export{Filename: "curriculum_notes.md", ContentType: "text/markdown"}
	CurriculumJSON   = Export{Filename: "curriculum.json", ContentType: "application/json"}
	CurriculumPDF    = Export{Filename: "curriculum.pdf", ContentType: "application/pdf"}
	ExportsByRouteID = map[string]Export{
		"notes.md":        NotesExport,
		"curriculum.json": CurriculumJSON,
		"curriculum.pdf":  CurriculumPDF,
	}
)

var (
	// ErrUnknownExport is returned for a route ID with no descriptor.
	ErrUnknownExport = errors.New("unknown export")
	// ErrNoCurriculum is returned when a curriculum export is requested before
	// one has been generated.
	ErrNoCurriculum = errors.New("no curriculum has been generated yet")
)

// Exporter builds downloads. The zero value writes PDFs with the built-in
// Helvetica font, which only covers Windows-1252.
type Exporter struct {
	font []byte
}

// NewExporter returns an Exporter that embeds the TrueType font at fontPath
// in PDFs so any Unicode text survives. An empty fontPath keeps Helvetica.
func NewExporter(fontPath string) (*Exporter, error) {
	if fontPath == "" {
		return &Exporter{}, nil
	}
	font, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read pdf font: %w", err)
	}
	return &Exporter{font: font}, nil
}

// Build produces the download named by routeID from a session's notebook and
// curriculum.
func (e *Exporter) Build(routeID, notebook string, c *domain.Curriculum) (Export, []byte, error) {
	desc, ok := ExportsByRouteID[routeID]
	if !ok {
		return Export{}, nil, fmt.Errorf("%w: %q", ErrUnknownExport, routeID)
	}
	if desc == NotesExport {
		return desc, ExportMarkdown(notebook), nil
	}
	if c == nil {
		return Export{}, nil, ErrNoCurriculum
	}

	var (
		data []byte
		err  error
	)
	if desc == CurriculumPDF {
		data, err = e.PDF(*c)
	} else {
		data, err = ExportJSON(*c)
	}
	if err != nil {
		return Export{}, nil, err
	}
	return desc, data, nil
}

// ExportMarkdown returns the notebook as UTF-8 Markdown.
func ExportMarkdown(notebook string) []byte {
	return []byte(notebook)
}

// ExportJSON returns the curriculum as indented JSON in schema field order.
func ExportJSON(c domain.Curriculum) ([]byte, error) {
	return curriculum.Encode(c)
}

const (
	pdfMargin     = 15.0
	pdfLineHeight = 6.0
	bullet        = "•"
	pdfUTF8Family = "CurriculumSans"
)

// PDF lays the curriculum out on A4 pages: a title block, one heading per
// semester, one subheading per course and bullet lists for topics and
// learning outcomes.
func (e *Exporter) PDF(c domain.Curriculum) ([]byte, error) {
	view := RenderCurriculum(c)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetTitle(view.Title, true)
	pdf.SetCreator("Curriculum Designer", true)

	family := "Helvetica"
	var lost int
	tr := func(s string) string {
		out, n := toWindows1252(s)
		lost += n
		return out
	}
	if e.font != nil {
		family = pdfUTF8Family
		for _, style := range []string{"", "B", "I"} {
			pdf.AddUTF8FontFromBytes(family, style, e.font)
		}
		tr = func(s string) string { return s }
	}

	pdf.AddPage()
	pdf.SetFont(family, "B", 20)
	pdf.MultiCell(0, 10, tr(view.Title), "", "C", false)
	pdf.Ln(4)

	if len(view.Semesters) == 0 {
		pdf.SetFont(family, "I", 11)
		pdf.MultiCell(0, pdfLineHeight, tr("No semesters."), "", "L", false)
	}

	for _, s := range view.Semesters {
		pdf.Ln(2)
		pdf.SetFont(family, "B", 15)
		pdf.MultiCell(0, 8, tr(s.Label), "B", "L", false)
		pdf.Ln(2)

		for _, course := range s.Courses {
			pdf.SetFont(family, "B", 12)
			pdf.MultiCell(0, 7, tr(fmt.Sprintf("%s (%s credits)", course.Name, course.Credits)), "", "L", false)
			writeList(pdf, family, tr, "Topics", course.Topics)
			writeList(pdf, family, tr, "Learning outcomes", course.Outcomes)
			pdf.Ln(2)
		}
	}

	if lost > 0 {
		slog.Warn("PDF export replaced characters outside Windows-1252, set PDF_FONT_PATH to a Unicode TTF",
			"program", view.Title, "replaced", lost)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// toWindows1252 encodes s for the core PDF fonts. Runes with no
// Windows-1252 byte become '?' and are counted.
func toWindows1252(s string) (string, int) {
	var (
		b    strings.Builder
		lost int
	)
	b.Grow(len(s))
	for _, r := range s {
		c, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			c = '?'
			lost++
		}
		b.WriteByte(c)
	}
	return b.String(), lost
}

func writeList(pdf *fpdf.Fpdf, family string, tr func(string) string, heading string, items []string) {
	pdf.SetFont(family, "I", 10)
	pdf.MultiCell(0, pdfLineHeight, tr(heading+":"), "", "L", false)
	pdf.SetFont(family, "", 10)
	for _, item := range items {
		pdf.SetX(pdfMargin + 4)
		pdf.MultiCell(0, pdfLineHeight, tr(bullet+" "+item), "", "L", false)
	}
}
