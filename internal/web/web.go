/*
Copyright (c) JSC iCore.

This source code is licensed under the MIT license found in the
LICENSE file in the root directory of this source tree.
*/

// Package web renders HTML pages of the sign-in flow.
package web

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/text/language"
)

//go:embed templates
var embedded embed.FS

// intTmplsFS provides page templates that are embedded into the application.
// The variable is needed to be able to override it in tests.
var intTmplsFS http.FileSystem = http.FS(mustSub(embedded, "templates"))

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Config is a configuration of a template's renderer.
type Config struct {
	Dir      string `envconfig:"dir" desc:"a path to an external web directory"`
	BasePath string `envconfig:"base_path" default:"/" desc:"a base path of web pages"`
}

// HTMLRenderer renders a HTML page from a Go template.
//
// A page's template is rendered inside the layout. The layout injects blocks
// "title", "style", "content" and "js" that the page's template may define.
// A page's template that defines block "main" replaces the layout entirely.
//
// The layout also provides template "errors" that renders form errors of the page's data.
//
// By default, HTMLRenderer loads a template's source from the templates that are embedded
// into the application. Besides it, HTMLRenderer can load templates' sources from an external directory.
type HTMLRenderer struct {
	Config
	mainTmpl *template.Template
	fs       http.FileSystem
}

// NewHTMLRenderer returns a new instance of HTMLRenderer.
func NewHTMLRenderer(cnf Config) (*HTMLRenderer, error) {
	mainTmpl, err := template.New("main").Parse(mainT)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create template's renderer")
	}
	fs := intTmplsFS
	if cnf.Dir != "" {
		fs = http.Dir(cnf.Dir)
	}
	return &HTMLRenderer{Config: cnf, mainTmpl: mainTmpl, fs: fs}, nil
}

type langPref struct {
	Lang   string
	Weight float32
}

// RenderTemplate renders a HTML page from a template with the specified name using the specified data.
func (r *HTMLRenderer) RenderTemplate(w http.ResponseWriter, req *http.Request, name string, data interface{}) error {
	return r.render(w, req, http.StatusOK, name, data)
}

// RenderTemplateStatus is like RenderTemplate but responds with the specified HTTP status.
func (r *HTMLRenderer) RenderTemplateStatus(w http.ResponseWriter, req *http.Request, status int, name string, data interface{}) error {
	return r.render(w, req, status, name, data)
}

func (r *HTMLRenderer) render(w http.ResponseWriter, req *http.Request, status int, name string, data interface{}) error {
	b, err := r.readTemplate(name)
	if err != nil {
		return err
	}
	root, err := r.mainTmpl.Clone()
	if err != nil {
		return errors.Wrapf(err, "failed to clone the main template for template %q", name)
	}
	if _, err = root.Parse(string(b)); err != nil {
		return errors.Wrapf(err, "failed to parse template %q", name)
	}

	basePath := r.BasePath
	if basePath == "" {
		basePath = "/"
	}
	langPrefs, err := parseLangPrefs(req.Header.Get("Accept-Language"))
	if err != nil {
		return err
	}
	tmplData := map[string]interface{}{"WebBasePath": basePath, "LangPrefs": langPrefs, "Data": data}

	var (
		buf bytes.Buffer
		bw  = bufio.NewWriter(&buf)
	)
	if err = root.ExecuteTemplate(bw, "main", tmplData); err != nil {
		return errors.Wrapf(err, "failed to execute template %q", name)
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err = buf.WriteTo(w)
	return err
}

func (r *HTMLRenderer) readTemplate(name string) ([]byte, error) {
	f, err := r.fs.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("the template %q does not exist", name)
		}
		return nil, fmt.Errorf("failed to open template %q: %s", name, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %q: %s", name, err)
	}
	return b, nil
}

func parseLangPrefs(acceptLang string) ([]langPref, error) {
	if acceptLang == "" {
		return []langPref{{Lang: "en", Weight: 1}}, nil
	}
	tags, weights, err := language.ParseAcceptLanguage(acceptLang)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse the header \"Accept-Language\"")
	}
	if len(tags) == 0 {
		return []langPref{{Lang: "en", Weight: 1}}, nil
	}
	langPrefs := make([]langPref, 0, len(tags))
	for i, tag := range tags {
		langPrefs = append(langPrefs, langPref{Lang: tag.String(), Weight: weights[i]})
	}
	return langPrefs, nil
}

var mainT = `{{ define "main" }}<!DOCTYPE html>
<html lang="{{ (index .LangPrefs 0).Lang }}">
	<head>
		<meta name="viewport" content="width=device-width, initial-scale=1">
		<title>{{ block "title" .Data }}{{ end }}</title>
		<base href="{{ .WebBasePath }}">
		{{ block "style" .Data }}{{ end }}
	</head>
	<body>
		{{ block "content" .Data }}<h1>NO CONTENT</h1>{{ end }}
		{{ block "js" .Data }}{{ end }}
	</body>
</html>
{{ end }}
{{ define "errors" }}{{ range .Form.Errors }}<p class="error">{{ . }}</p>{{ end }}{{ end }}
`
