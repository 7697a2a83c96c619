package schema

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/atinyakov/ozon/internal/models"
	"gopkg.in/yaml.v3"
)

// Definition is the YAML form of a model definition.
//
//	models:
//	  - name: widget
//	    title: Widget
//	    sort: list_order:asc,rec_name:asc
//	    fields:
//	      - {name: name, type: string, required: true}
type Definition struct {
	Name        string         `yaml:"name"`
	Title       string         `yaml:"title"`
	Sort        string         `yaml:"sort,omitempty"`
	OwnerScoped bool           `yaml:"owner_scoped,omitempty"`
	Fields      []models.Field `yaml:"fields"`
}

type definitionFile struct {
	Models []Definition `yaml:"models"`
}

// ParseDefinitions decodes a YAML document holding a models list.
func ParseDefinitions(r io.Reader) ([]Definition, error) {
	var f definitionFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode model definitions: %w", err)
	}
	for i, d := range f.Models {
		if d.Name == "" {
			return nil, fmt.Errorf("model %d: missing name", i)
		}
		if d.Sort != "" {
			if _, err := ParseSort(d.Sort); err != nil {
				return nil, fmt.Errorf("model %s: %w", d.Name, err)
			}
		}
	}
	return f.Models, nil
}

// LoadYAML reads model definitions from path.
func LoadYAML(path string) ([]Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model definitions: %w", err)
	}
	defer f.Close()
	return ParseDefinitions(f)
}

// ToRecord converts d into a record of the component model.
func (d Definition) ToRecord() models.Record {
	title := d.Title
	if title == "" {
		title = d.Name
	}
	fields := make([]any, 0, len(d.Fields))
	for _, f := range d.Fields {
		m := map[string]any{"name": f.Name, "type": string(f.Type)}
		if f.Required {
			m["required"] = true
		}
		if f.Unique {
			m["unique"] = true
		}
		if f.Secret {
			m["secret"] = true
		}
		if f.Default != nil {
			m["default"] = f.Default
		}
		fields = append(fields, m)
	}
	props := map[string]any{}
	if d.Sort != "" {
		props["sort"] = d.Sort
	}
	if d.OwnerScoped {
		props["owner_scoped"] = true
	}
	return models.Record{
		models.KeyRecName: d.Name,
		"title":           title,
		"data_model":      "mongo",
		"properties":      props,
		"fields":          fields,
	}
}
