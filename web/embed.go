// Package web serves the server-rendered pages: sign-in, registration and the
// curriculum workspace.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/ashureev/curriculum-designer/internal/render"
)

//go:embed templates/*.html static/*
var assets embed.FS

var pageNames = []string{"login", "register", "workspace"}

var funcs = template.FuncMap{
	"markdown": render.Markdown,
	"lower":    strings.ToLower,
	"exports": func() []exportLink {
		return []exportLink{
			{RouteID: "notes.md", Label: "Notes (.md)", NeedsCurriculum: false},
			{RouteID: "curriculum.json", Label: "Curriculum (.json)", NeedsCurriculum: true},
			{RouteID: "curriculum.pdf", Label: "Curriculum (.pdf)", NeedsCurriculum: true},
		}
	},
}

type exportLink struct {
	RouteID         string
	Label           string
	NeedsCurriculum bool
}

func parseTemplates() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(assets, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// StaticHandler serves the embedded stylesheet and script.
func StaticHandler() http.Handler {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
