// Package prompts renders the task text sent to each stage's agent. The texts live in
// an embedded JSON document and use text/template placeholders such as {{.CleanedFile}}.
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
)

//go:embed stages.json
var stagesJSON []byte

// Keys of the embedded templates.
const (
	KeyCleanTask        = "clean-task"
	KeyAnalyzeTask      = "analyze-task"
	KeyVisualizeTask    = "visualize-task"
	KeyDefaultAutoReply = "default-auto-reply"
)

var templates = sync.OnceValues(func() (*template.Template, error) {
	return parse(stagesJSON)
})

// parse builds one named template per entry. Rendering fails on any placeholder the
// data does not supply.
func parse(raw []byte) (*template.Template, error) {
	var texts map[string]string
	if err := json.Unmarshal(raw, &texts); err != nil {
		return nil, fmt.Errorf("failed to parse stage prompts: %w", err)
	}

	keys := make([]string, 0, len(texts))
	for key := range texts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	root := template.New("prompts").Option("missingkey=error")
	for _, key := range keys {
		if _, err := root.New(key).Parse(texts[key]); err != nil {
			return nil, fmt.Errorf("failed to parse prompt %q: %w", key, err)
		}
	}
	return root, nil
}

// Render fills the template stored under key.
func Render(key string, data map[string]string) (string, error) {
	root, err := templates()
	if err != nil {
		return "", err
	}
	return execute(root, key, data)
}

// MustRender is Render for keys known at compile time.
func MustRender(key string, data map[string]string) string {
	text, err := Render(key, data)
	if err != nil {
		panic(err)
	}
	return text
}

func execute(root *template.Template, key string, data map[string]string) (string, error) {
	tmpl := root.Lookup(key)
	if tmpl == nil {
		return "", fmt.Errorf("prompt %q not found", key)
	}
	if data == nil {
		data = map[string]string{}
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %q: %w", key, err)
	}
	return sb.String(), nil
}
