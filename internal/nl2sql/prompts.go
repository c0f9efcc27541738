package nl2sql

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"
)

//go:embed prompts/*/*.tmpl
var promptFS embed.FS

const (
	PromptSQLQuery = "sql-query"
	PromptAnswer   = "answer"

	DefaultPromptVersion = "v1"
)

// Prompt is one version of a locally owned prompt template. Each file defines
// a "user" template and optionally a "system" template.
type Prompt struct {
	Name    string
	Version string
	tmpl    *template.Template
}

func LoadPrompt(name, version string) (*Prompt, error) {
	if strings.TrimSpace(version) == "" {
		version = DefaultPromptVersion
	}
	file := path.Join("prompts", name, version+".tmpl")
	raw, err := promptFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("prompt %s/%s not found (available: %s)", name, version, strings.Join(PromptVersions(name), ", "))
	}
	tmpl, err := template.New(name + "/" + version).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s/%s: %w", name, version, err)
	}
	if tmpl.Lookup("user") == nil {
		return nil, fmt.Errorf("prompt %s/%s defines no user template", name, version)
	}
	return &Prompt{Name: name, Version: version, tmpl: tmpl}, nil
}

// PromptVersions lists the embedded versions of a prompt, sorted.
func PromptVersions(name string) []string {
	matches, err := fs.Glob(promptFS, path.Join("prompts", name, "*.tmpl"))
	if err != nil {
		return nil
	}
	versions := make([]string, 0, len(matches))
	for _, match := range matches {
		versions = append(versions, strings.TrimSuffix(path.Base(match), ".tmpl"))
	}
	sort.Strings(versions)
	return versions
}

// Messages renders the prompt into chat messages, system first when defined.
func (p *Prompt) Messages(data any) ([]Message, error) {
	messages := make([]Message, 0, 2)
	if p.tmpl.Lookup("system") != nil {
		system, err := p.render("system", data)
		if err != nil {
			return nil, err
		}
		messages = append(messages, Message{Role: "system", Content: system})
	}
	user, err := p.render("user", data)
	if err != nil {
		return nil, err
	}
	return append(messages, Message{Role: "user", Content: user}), nil
}

func (p *Prompt) render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := p.tmpl.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s/%s %s: %w", p.Name, p.Version, name, err)
	}
	return sb.String(), nil
}
