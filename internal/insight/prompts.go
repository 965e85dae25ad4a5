package insight

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/coparent-ritual/internal/generation"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// promptDef is one entry of the prompt file.
type promptDef struct {
	MaxTokens int    `yaml:"max_tokens"`
	Template  string `yaml:"template"`
}

type prompt struct {
	maxTokens int
	tmpl      *template.Template
}

// PromptCatalog renders prompts by name (a generation kind or a stream kind).
type PromptCatalog struct {
	prompts map[string]prompt
}

var promptFuncs = template.FuncMap{
	"when": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Mon Jan 2 3:04pm")
	},
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(b)
	},
}

// batchKinds are the prompts the orchestrator renders.
var batchKinds = []generation.Kind{
	generation.KindNarrative,
	generation.KindAffirmation,
	generation.KindConflictExplanation,
	generation.KindPrepSuggestion,
	generation.KindDecisionOptions,
}

// DefaultPrompts returns the catalog embedded in the binary. It fails if any
// batch generation kind has no prompt.
func DefaultPrompts() (*PromptCatalog, error) {
	catalog, err := ParsePrompts(defaultPrompts)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(batchKinds))
	for _, kind := range batchKinds {
		names = append(names, string(kind))
	}
	if err := catalog.Require(names...); err != nil {
		return nil, err
	}
	return catalog, nil
}

// ParsePrompts builds a catalog from YAML.
func ParsePrompts(data []byte) (*PromptCatalog, error) {
	var defs map[string]promptDef
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}

	catalog := &PromptCatalog{prompts: make(map[string]prompt, len(defs))}
	for name, def := range defs {
		if strings.TrimSpace(def.Template) == "" {
			return nil, fmt.Errorf("prompt %q has an empty template", name)
		}
		tmpl, err := template.New(name).Funcs(promptFuncs).Option("missingkey=zero").Parse(def.Template)
		if err != nil {
			return nil, fmt.Errorf("parse prompt %q: %w", name, err)
		}
		catalog.prompts[name] = prompt{maxTokens: def.MaxTokens, tmpl: tmpl}
	}
	return catalog, nil
}

// Require returns an error naming every prompt in names that is missing.
func (c *PromptCatalog) Require(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, ok := c.prompts[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing prompts: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Render executes the named prompt against data and returns the text and
// its token budget.
func (c *PromptCatalog) Render(name string, data any) (string, int, error) {
	p, ok := c.prompts[name]
	if !ok {
		return "", 0, fmt.Errorf("unknown prompt %q", name)
	}
	var sb strings.Builder
	if err := p.tmpl.Execute(&sb, data); err != nil {
		return "", 0, fmt.Errorf("render prompt %q: %w", name, err)
	}
	return strings.TrimSpace(sb.String()), p.maxTokens, nil
}
