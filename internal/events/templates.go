package events

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

var defaultTemplates = map[EventReason]string{
	ReasonFinalizerAdded:   `Added finalizer {{ .Finalizer }}`,
	ReasonDependentFailed:  `Dependents {{ .Nodes | join ", " }} failed: {{ .Error }}`,
	ReasonReconcileFailed:  `Reconciliation failed{{ if .Attempt }} (retry {{ .Attempt }}){{ end }}: {{ .Error }}`,
	ReasonRetriesExhausted: `Giving up after {{ .Attempt }} {{ if eq .Attempt 1 }}retry{{ else }}retries{{ end }} until the resource changes: {{ .Error }}`,
	ReasonCleanupPending:   `Waiting for {{ .Nodes | join ", " | default "dependents" }} to be deleted`,
	ReasonFinalizerRemoved: `Cleanup complete, removed finalizer {{ .Finalizer }}`,
}

// Templates renders event messages. It is safe for concurrent use.
type Templates struct {
	mu        sync.RWMutex
	templates map[EventReason]*template.Template
}

// NewTemplates returns the default message templates.
func NewTemplates() *Templates {
	t := &Templates{templates: make(map[EventReason]*template.Template)}
	for reason, text := range defaultTemplates {
		if err := t.Set(reason, text); err != nil {
			panic(fmt.Sprintf("default template for %s: %v", reason, err))
		}
	}
	return t
}

// Set replaces the template of reason. Templates may use every sprig
// function.
func (t *Templates) Set(reason EventReason, text string) error {
	tmpl, err := template.New(string(reason)).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("invalid template for %s: %w", reason, err)
	}
	t.mu.Lock()
	t.templates[reason] = tmpl
	t.mu.Unlock()
	return nil
}

// Render renders the message of reason. Unknown reasons and failing
// templates fall back to a generic message.
func (t *Templates) Render(reason EventReason, data EventData) string {
	t.mu.RLock()
	tmpl, ok := t.templates[reason]
	t.mu.RUnlock()

	fallback := fmt.Sprintf("%s for %s", reason, data.Name)
	if data.Error != "" {
		fallback += ": " + data.Error
	}
	if !ok {
		return fallback
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fallback
	}
	return buf.String()
}
