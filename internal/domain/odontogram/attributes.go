package odontogram

import (
	"encoding/json"
	"fmt"
	"sort"
)

// InputKind selects how the clinician fills an attribute group.
type InputKind string

const (
	InputSelect   InputKind = "select"
	InputRadio    InputKind = "radio"
	InputCheckbox InputKind = "checkbox"
	InputText     InputKind = "text"
)

// MaterialGroupID is the attribute group whose options may recolor restorations.
const MaterialGroupID = "material"

const defaultTextLimit = 500

// AttributeOption is one selectable value. Priority orders options within
// the group; Color, when set, overrides a restoration's category color.
type AttributeOption struct {
	ID       string `yaml:"id" json:"id"`
	Label    string `yaml:"label" json:"label"`
	Priority int    `yaml:"priority,omitempty" json:"priority,omitempty"`
	Color    string `yaml:"color,omitempty" json:"color,omitempty"`
}

// AttributeGroup is one named clinical attribute of a definition.
type AttributeGroup struct {
	ID        string            `yaml:"id" json:"id"`
	Label     string            `yaml:"label" json:"label"`
	Kind      InputKind         `yaml:"kind" json:"kind"`
	Required  bool              `yaml:"required,omitempty" json:"required,omitempty"`
	MaxLength int               `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Options   []AttributeOption `yaml:"options,omitempty" json:"options,omitempty"`
}

func (g AttributeGroup) option(id string) (AttributeOption, bool) {
	for _, o := range g.Options {
		if o.ID == id {
			return o, true
		}
	}
	return AttributeOption{}, false
}

// SortedOptions returns the options ordered by sub-priority, then by catalog order.
func (g AttributeGroup) SortedOptions() []AttributeOption {
	out := append([]AttributeOption(nil), g.Options...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority, out[j].Priority
		if pi == 0 {
			pi = 1 << 30
		}
		if pj == 0 {
			pj = 1 << 30
		}
		return pi < pj
	})
	return out
}

func (g AttributeGroup) check() error {
	switch g.Kind {
	case InputSelect, InputRadio, InputCheckbox:
		if len(g.Options) == 0 {
			return fmt.Errorf("attribute %s: %s input needs options", g.ID, g.Kind)
		}
		seen := make(map[string]bool, len(g.Options))
		for _, o := range g.Options {
			if o.ID == "" || seen[o.ID] {
				return fmt.Errorf("attribute %s: empty or duplicate option %q", g.ID, o.ID)
			}
			seen[o.ID] = true
		}
	case InputText:
		if len(g.Options) > 0 {
			return fmt.Errorf("attribute %s: text input cannot declare options", g.ID)
		}
	default:
		return fmt.Errorf("attribute %s: unknown input kind %q", g.ID, g.Kind)
	}
	return nil
}

// Validate checks a value against the group's input kind.
func (g AttributeGroup) Validate(v AttributeValue) error {
	if v.Kind != g.Kind {
		return fmt.Errorf("attribute %s: expected %s value, got %q", g.ID, g.Kind, v.Kind)
	}
	switch g.Kind {
	case InputSelect, InputRadio:
		if v.Option == "" {
			if g.Required {
				return fmt.Errorf("attribute %s is required", g.ID)
			}
			return nil
		}
		if _, ok := g.option(v.Option); !ok {
			return fmt.Errorf("attribute %s: unknown option %q", g.ID, v.Option)
		}
	case InputCheckbox:
		if len(v.Options) == 0 && g.Required {
			return fmt.Errorf("attribute %s is required", g.ID)
		}
		for _, id := range v.Options {
			if _, ok := g.option(id); !ok {
				return fmt.Errorf("attribute %s: unknown option %q", g.ID, id)
			}
		}
	case InputText:
		limit := g.MaxLength
		if limit <= 0 {
			limit = defaultTextLimit
		}
		if v.Text == "" && g.Required {
			return fmt.Errorf("attribute %s is required", g.ID)
		}
		if len([]rune(v.Text)) > limit {
			return fmt.Errorf("attribute %s exceeds %d characters", g.ID, limit)
		}
	}
	return nil
}

// AttributeValue is the clinician's answer for one group. Exactly one of
// Option, Options or Text is meaningful, depending on Kind.
type AttributeValue struct {
	Kind    InputKind `json:"kind,omitempty"`
	Option  string    `json:"option,omitempty"`
	Options []string  `json:"options,omitempty"`
	Text    string    `json:"text,omitempty"`
}

func SelectValue(option string) AttributeValue {
	return AttributeValue{Kind: InputSelect, Option: option}
}

func RadioValue(option string) AttributeValue {
	return AttributeValue{Kind: InputRadio, Option: option}
}

func CheckboxValue(options ...string) AttributeValue {
	return AttributeValue{Kind: InputCheckbox, Options: options}
}

func TextValue(text string) AttributeValue {
	return AttributeValue{Kind: InputText, Text: text}
}

// UnmarshalJSON also accepts the loose shapes older records carry: a bare
// string (single option or free text) or a bare list of option ids. The kind
// is settled later against the catalog schema by the hydrator.
func (v *AttributeValue) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = AttributeValue{Option: s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*v = AttributeValue{Options: list}
		return nil
	}
	type plain AttributeValue
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*v = AttributeValue(p)
	return nil
}

// Selections maps attribute group id to the selected value.
type Selections map[string]AttributeValue

func (s Selections) clone() Selections {
	if s == nil {
		return nil
	}
	out := make(Selections, len(s))
	for k, v := range s {
		v.Options = append([]string(nil), v.Options...)
		out[k] = v
	}
	return out
}

// validateSelections checks every selection against the definition's groups
// and enforces required groups.
func validateSelections(groups []AttributeGroup, sel Selections) error {
	index := make(map[string]AttributeGroup, len(groups))
	for _, g := range groups {
		index[g.ID] = g
	}
	for id, v := range sel {
		g, ok := index[id]
		if !ok {
			return fmt.Errorf("unknown attribute %q", id)
		}
		if err := g.Validate(v); err != nil {
			return err
		}
	}
	for _, g := range groups {
		if _, ok := sel[g.ID]; !ok && g.Required {
			return fmt.Errorf("attribute %s is required", g.ID)
		}
	}
	return nil
}

// settleKinds fills in missing kinds from the schema for values decoded from
// loose shapes. Values already carrying a kind are left alone. An empty
// map settles to nil so it aggregates with entries that carry none.
func settleKinds(groups []AttributeGroup, sel Selections) Selections {
	if len(sel) == 0 {
		return nil
	}
	var out Selections
	for _, g := range groups {
		v, ok := sel[g.ID]
		if !ok || v.Kind != "" {
			continue
		}
		if out == nil {
			out = sel.clone()
		}
		v.Kind = g.Kind
		switch g.Kind {
		case InputText:
			if v.Text == "" {
				v.Text = v.Option
			}
			v.Option = ""
		case InputCheckbox:
			if len(v.Options) == 0 && v.Option != "" {
				v.Options = []string{v.Option}
			}
			v.Option = ""
		default:
			if v.Option == "" && len(v.Options) > 0 {
				v.Option = v.Options[0]
			}
			v.Options = nil
		}
		out[g.ID] = v
	}
	if out == nil {
		return sel
	}
	return out
}
