package risk

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/signals"
)

// CatalogueEntry is one rule as written in a catalogue file.
type CatalogueEntry struct {
	Category string `yaml:"category"`
	Tool     string `yaml:"tool,omitempty"`
	Field    string `yaml:"field,omitempty"`
	Op       string `yaml:"op,omitempty"`
	Pattern  string `yaml:"pattern"`
	Level    string `yaml:"level"`
	Evidence string `yaml:"evidence"`
}

// Catalogue is the on-disk shape of a rule extension file.
type Catalogue struct {
	Rules []CatalogueEntry `yaml:"rules"`
}

var knownCategories = map[string]signals.Category{
	string(signals.CategoryShell):   signals.CategoryShell,
	string(signals.CategoryFile):    signals.CategoryFile,
	string(signals.CategoryNetwork): signals.CategoryNetwork,
	string(signals.CategoryBrowser): signals.CategoryBrowser,
	string(signals.CategoryMessage): signals.CategoryMessage,
	string(signals.CategorySystem):  signals.CategorySystem,
	string(signals.CategoryMemory):  signals.CategoryMemory,
}

var knownFields = map[string]Field{
	string(FieldCommand): FieldCommand,
	string(FieldPath):    FieldPath,
	string(FieldURL):     FieldURL,
	string(FieldMessage): FieldMessage,
	string(FieldAction):  FieldAction,
}

// LoadCatalogue reads extra rules from a YAML file. An empty path yields no
// rules. Entries that cannot be used are skipped and described in warnings.
func LoadCatalogue(path string) ([]Rule, []string, error) {
	if path == "" {
		return nil, nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read rule catalogue: %w", err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue compiles catalogue YAML into rules. Invalid regexes and
// unknown categories are skipped; unknown levels default to medium.
func ParseCatalogue(data []byte) ([]Rule, []string, error) {
	var cat Catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, nil, fmt.Errorf("parse rule catalogue: %w", err)
	}

	var rules []Rule
	var warnings []string
	for i, e := range cat.Rules {
		category, ok := knownCategories[strings.ToLower(strings.TrimSpace(e.Category))]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("rule %d: unknown category %q, skipped", i, e.Category))
			continue
		}
		if e.Pattern == "" {
			warnings = append(warnings, fmt.Sprintf("rule %d: empty pattern, skipped", i))
			continue
		}
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("rule %d: invalid pattern %q: %v", i, e.Pattern, err))
			continue
		}

		field := DefaultField(category)
		if e.Field != "" {
			f, ok := knownFields[strings.ToLower(e.Field)]
			if !ok {
				warnings = append(warnings, fmt.Sprintf("rule %d: unknown field %q, skipped", i, e.Field))
				continue
			}
			field = f
		}

		level, err := model.ParseLevel(e.Level)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("rule %d: %v, using medium", i, err))
			level = model.LevelMedium
		}

		evidence := strings.TrimSpace(e.Evidence)
		if evidence == "" {
			evidence = "custom rule: " + e.Pattern
		}

		rules = append(rules, Rule{
			Category: category,
			Tool:     strings.ToLower(strings.TrimSpace(e.Tool)),
			Field:    field,
			Op:       parseOp(e.Op),
			Pattern:  re,
			Level:    level,
			Evidence: evidence,
		})
	}
	return rules, warnings, nil
}

func parseOp(s string) Op {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return OpRead
	case "write":
		return OpWrite
	}
	return OpAny
}
