// Package inputbuilder implements the input builder (C6): the task and chat
// input markdown and the workspace context markdown fed to the CLI,
// grounded on the teacher's pkg/templates (text/template over an embedded
// *.tpl.md set).
package inputbuilder

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

type templateName string

const (
	taskInputTemplate   templateName = "task_input.tpl.md"
	chatInputTemplate   templateName = "chat_input.tpl.md"
	chatContextTemplate templateName = "chat_context.tpl.md"
)

// Builder renders the three markdown documents the runner hands to CLI
// subprocesses. The zero value is not usable; use NewBuilder.
type Builder struct {
	templates map[templateName]*template.Template
}

// NewBuilder parses the embedded templates once at startup.
func NewBuilder() (*Builder, error) {
	b := &Builder{templates: make(map[templateName]*template.Template)}

	for _, name := range []templateName{taskInputTemplate, chatInputTemplate, chatContextTemplate} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		b.templates[name] = tmpl
	}
	return b, nil
}

func (b *Builder) render(name templateName, data any) (string, error) {
	tmpl, ok := b.templates[name]
	if !ok {
		return "", fmt.Errorf("template %s not registered", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}
