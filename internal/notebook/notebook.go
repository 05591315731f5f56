// Package notebook implements the free-text notes buffer shared by the user
// and the assistant.
package notebook

import (
	"strings"
	"sync"
)

// DefaultTemplate is the content of a fresh notebook.
const DefaultTemplate = "# My Curriculum Notes\n\nStart writing or let the AI help..."

// Document is a single mutable Markdown buffer owned by one session.
type Document struct {
	mu   sync.RWMutex
	text string
}

// New returns a notebook seeded with DefaultTemplate.
func New() *Document {
	return &Document{text: DefaultTemplate}
}

// Restore returns a notebook holding text.
func Restore(text string) *Document {
	return &Document{text: text}
}

// Append adds a second-level section to the end of the notebook.
func (d *Document) Append(title, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text += "\n\n## " + strings.TrimSpace(title) + "\n" + body
}

// Get returns the current text.
func (d *Document) Get() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text
}

// Set replaces the text with a direct user edit.
func (d *Document) Set(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
}

// Reset restores DefaultTemplate.
func (d *Document) Reset() {
	d.Set(DefaultTemplate)
}

// Export returns the notebook as UTF-8 Markdown.
func (d *Document) Export() []byte {
	return []byte(d.Get())
}
