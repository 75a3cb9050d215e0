package duck

import (
	"sort"
	"strings"

	"github.com/malbeclabs/civicdata/internal/value"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema is the ordered column list of a session table.
type Schema []Column

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Lookup finds a column by name, exact match first and then case-insensitively.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	for _, c := range s {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Format renders the schema one column per line as "name: TYPE".
func (s Schema) Format() string {
	var sb strings.Builder
	for _, c := range s {
		sb.WriteString("- ")
		sb.WriteString(c.Name)
		sb.WriteString(": ")
		sb.WriteString(c.Type)
		sb.WriteString("\n")
	}
	return sb.String()
}

func sortFields(fields []value.Field) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
}
