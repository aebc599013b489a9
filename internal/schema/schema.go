// Package schema defines the static question tree that drives the assessment
// wizard: an ordered list of steps, each holding sections of typed questions
// with validation rules. The tree is loaded once from an embedded YAML file
// and is immutable at runtime; it defines both what the UI renders and what
// the engine validates.
package schema

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed wizard.yaml
var wizardYAML []byte

// QuestionType is the closed enumeration of supported question types.
type QuestionType string

const (
	TypeText        QuestionType = "text"
	TypeEmail       QuestionType = "email"
	TypeSelect      QuestionType = "select"
	TypeMultiSelect QuestionType = "multiselect"
	TypeSlider      QuestionType = "slider"
	TypeRadio       QuestionType = "radio"
	TypeCheckbox    QuestionType = "checkbox"
	TypeTextarea    QuestionType = "textarea"
	TypeFile        QuestionType = "file"
)

var validTypes = map[QuestionType]bool{
	TypeText:        true,
	TypeEmail:       true,
	TypeSelect:      true,
	TypeMultiSelect: true,
	TypeSlider:      true,
	TypeRadio:       true,
	TypeCheckbox:    true,
	TypeTextarea:    true,
	TypeFile:        true,
}

// Question is a single schema node. ID is unique across the whole wizard.
type Question struct {
	ID             string       `yaml:"id"`
	Type           QuestionType `yaml:"type"`
	Label          string       `yaml:"label"`
	Placeholder    string       `yaml:"placeholder,omitempty"`
	Options        []string     `yaml:"options,omitempty"`
	Min            float64      `yaml:"min,omitempty"`
	Max            float64      `yaml:"max,omitempty"`
	Step           float64      `yaml:"step,omitempty"`
	Required       bool         `yaml:"required,omitempty"`
	Tooltip        string       `yaml:"tooltip,omitempty"`
	Pattern        string       `yaml:"pattern,omitempty"`
	PatternMessage string       `yaml:"pattern_message,omitempty"`
	DisableContext bool         `yaml:"disable_context,omitempty"`

	pattern *regexp.Regexp
}

// MatchesPattern reports whether s satisfies the question's validation
// pattern. Questions without a pattern accept everything.
func (q *Question) MatchesPattern(s string) bool {
	if q.pattern == nil {
		return true
	}
	return q.pattern.MatchString(s)
}

// Section groups related questions within a step.
type Section struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description,omitempty"`
	Progress    int        `yaml:"progress,omitempty"`
	Questions   []Question `yaml:"questions"`
}

// Step is one wizard page.
type Step struct {
	ID       string    `yaml:"id"`
	Title    string    `yaml:"title"`
	Subtitle string    `yaml:"subtitle,omitempty"`
	Sections []Section `yaml:"sections"`
}

// Wizard is the full loaded question tree plus lookup indexes.
type Wizard struct {
	Steps []Step `yaml:"steps"`

	flat  []*Question
	index map[string]*Question
}

// Load parses and validates the embedded wizard definition.
func Load() (*Wizard, error) {
	return Parse(wizardYAML)
}

// MustLoad is Load that panics on error. The embedded definition is
// validated by tests, so a failure here is a build defect.
func MustLoad() *Wizard {
	w, err := Load()
	if err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
	return w
}

// Parse builds a Wizard from raw YAML, compiling validation patterns and
// rejecting structural errors (unknown type tags, duplicate ids, inverted
// numeric bounds).
func Parse(raw []byte) (*Wizard, error) {
	var w Wizard
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("parse wizard yaml: %w", err)
	}
	if len(w.Steps) == 0 {
		return nil, fmt.Errorf("wizard has no steps")
	}

	w.index = make(map[string]*Question)
	for si := range w.Steps {
		step := &w.Steps[si]
		for ci := range step.Sections {
			sec := &step.Sections[ci]
			for qi := range sec.Questions {
				q := &sec.Questions[qi]
				if q.ID == "" {
					return nil, fmt.Errorf("step %s section %s: question with empty id", step.ID, sec.ID)
				}
				if !validTypes[q.Type] {
					return nil, fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
				}
				if _, dup := w.index[q.ID]; dup {
					return nil, fmt.Errorf("duplicate question id %q", q.ID)
				}
				if q.Type == TypeSlider && q.Max <= q.Min {
					return nil, fmt.Errorf("question %s: slider bounds %v..%v", q.ID, q.Min, q.Max)
				}
				if q.Pattern != "" {
					re, err := regexp.Compile(q.Pattern)
					if err != nil {
						return nil, fmt.Errorf("question %s: pattern: %w", q.ID, err)
					}
					q.pattern = re
				}
				w.index[q.ID] = q
				w.flat = append(w.flat, q)
			}
		}
	}
	return &w, nil
}

// StepCount returns the number of wizard steps.
func (w *Wizard) StepCount() int {
	return len(w.Steps)
}

// StepAt returns the 1-based step, matching how the persisted step pointer
// is numbered. Returns nil when out of range.
func (w *Wizard) StepAt(step int) *Step {
	if step < 1 || step > len(w.Steps) {
		return nil
	}
	return &w.Steps[step-1]
}

// Flatten returns all questions in schema order.
func (w *Wizard) Flatten() []*Question {
	return w.flat
}

// Lookup finds a question by id anywhere in the tree.
func (w *Wizard) Lookup(id string) (*Question, bool) {
	q, ok := w.index[id]
	return q, ok
}
