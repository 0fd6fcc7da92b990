// Package nutrition provides the fixed table of canonical foods.
package nutrition

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"calorielog/internal/domain"
)

//go:embed foods.yaml
var defaultTable []byte

// Food is one canonical table entry.
type Food struct {
	Key      string   `yaml:"key"`
	Name     string   `yaml:"name"`
	Calories float64  `yaml:"calories"`
	Protein  float64  `yaml:"protein"`
	Carbs    float64  `yaml:"carbs"`
	Fat      float64  `yaml:"fat"`
	Aliases  []string `yaml:"aliases"`
}

// Item returns f as a FoodItem with all macros set.
func (f Food) Item() domain.FoodItem {
	protein, carbs, fat := f.Protein, f.Carbs, f.Fat
	return domain.FoodItem{
		Name:     f.Name,
		Calories: f.Calories,
		Protein:  &protein,
		Carbs:    &carbs,
		Fat:      &fat,
	}
}

// Table is an immutable, ordered set of foods.
type Table struct {
	foods []Food
	index map[string]int
}

// Default returns the embedded table.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Load reads a table from path, or the embedded default when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nutrition: %w", err)
	}
	return Parse(b)
}

// Parse decodes a YAML table and validates it.
func Parse(b []byte) (*Table, error) {
	var doc struct {
		Foods []Food `yaml:"foods"`
	}
	if err := yaml.UnmarshalStrict(b, &doc); err != nil {
		return nil, fmt.Errorf("nutrition: parse: %w", err)
	}
	if len(doc.Foods) == 0 {
		return nil, errors.New("nutrition: table is empty")
	}

	t := &Table{foods: doc.Foods, index: make(map[string]int)}
	for i, f := range doc.Foods {
		if f.Key == "" || f.Name == "" {
			return nil, fmt.Errorf("nutrition: entry %d needs a key and a name", i)
		}
		if f.Calories < 0 || f.Protein < 0 || f.Carbs < 0 || f.Fat < 0 {
			return nil, fmt.Errorf("nutrition: %s has negative values", f.Key)
		}
		names := append([]string{f.Key, f.Name}, f.Aliases...)
		for _, n := range names {
			n = normalize(n)
			if j, ok := t.index[n]; ok && j != i {
				return nil, fmt.Errorf("nutrition: %q maps to both %s and %s", n, doc.Foods[j].Key, f.Key)
			}
			t.index[n] = i
		}
	}
	return t, nil
}

// Len returns the number of foods.
func (t *Table) Len() int { return len(t.foods) }

// At returns the i-th food.
func (t *Table) At(i int) Food { return t.foods[i] }

// Foods returns a copy of all entries.
func (t *Table) Foods() []Food {
	out := make([]Food, len(t.foods))
	copy(out, t.foods)
	return out
}

// Lookup finds a food by key, name or alias, ignoring case.
func (t *Table) Lookup(name string) (Food, bool) {
	i, ok := t.index[normalize(name)]
	if !ok {
		return Food{}, false
	}
	return t.foods[i], true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
