package template

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/xraph/reportflow"
)

//go:embed schema.json
var schemaJSON []byte

var loadSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Validator checks templates at create and update time so a malformed
// section fails fast instead of corrupting a run mid-execution.
type Validator struct {
	schema  *gojsonschema.Schema
	catalog map[string]bool
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithEntityCatalog restricts section sources to the given
// "module.entity" kinds.
func WithEntityCatalog(kinds ...string) ValidatorOption {
	return func(v *Validator) {
		if v.catalog == nil {
			v.catalog = make(map[string]bool, len(kinds))
		}
		for _, k := range kinds {
			v.catalog[k] = true
		}
	}
}

// NewValidator compiles the embedded template schema.
func NewValidator(opts ...ValidatorOption) (*Validator, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("reportflow/template: load schema: %w", err)
	}
	v := &Validator{schema: schema}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate checks t with a catalog-free Validator.
func Validate(t *Template) error {
	v, err := NewValidator()
	if err != nil {
		return err
	}
	return v.Validate(t)
}

// Validate checks the document shape against the JSON schema, then the
// cross-field rules the schema cannot express. Unset defaults are
// filled on a copy; t is not modified.
func (v *Validator) Validate(t *Template) error {
	cp := *t
	cp.Sections = slices.Clone(t.Sections)
	cp.ApplyDefaults()

	doc, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("reportflow/template: marshal: %w", err)
	}
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("reportflow/template: validate: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		msgs := make([]string, 0, len(errs))
		for _, desc := range errs {
			msgs = append(msgs, desc.String())
		}
		return &reportflow.ConfigurationError{Field: errs[0].Field(), Reason: strings.Join(msgs, "; ")}
	}

	return v.checkRules(&cp)
}

func (v *Validator) checkRules(t *Template) error {
	if _, err := time.LoadLocation(t.OutputDefaults.Timezone); err != nil {
		return reportflow.Configf("outputDefaults.timezone", "unknown timezone %q", t.OutputDefaults.Timezone)
	}

	switch t.Audience.DepartmentScope {
	case DepartmentsSelected:
		if len(t.Audience.DepartmentIDs) == 0 {
			return reportflow.Configf("audience.departmentIds", "required when departmentScope is SELECTED")
		}
	case DepartmentsAll:
		if len(t.Audience.DepartmentIDs) > 0 {
			return reportflow.Configf("audience.departmentIds", "must be empty when departmentScope is ALL")
		}
	}

	keys := make(map[string]bool, len(t.Sections))
	enabled := 0
	for i, s := range t.Sections {
		field := fmt.Sprintf("sections[%d]", i)
		if keys[s.Key] {
			return reportflow.Configf(field+".key", "duplicate section key %q", s.Key)
		}
		keys[s.Key] = true
		if s.Enabled {
			enabled++
		}

		if err := s.Source.Validate(); err != nil {
			return prefixed(field, err)
		}
		if v.catalog != nil && !v.catalog[s.Source.Kind()] {
			return reportflow.Configf(field+".source", "unknown entity %q", s.Source.Kind())
		}
		if err := checkView(s.View); err != nil {
			return prefixed(field, err)
		}
	}
	if enabled == 0 {
		return reportflow.Configf("sections", "at least one section must be enabled")
	}
	return nil
}

func checkView(view View) error {
	switch view.Type {
	case ViewChart:
		if view.Chart == nil {
			return reportflow.Configf("view.chart", "required for CHART views")
		}
	case ViewText:
		if strings.TrimSpace(view.Template) == "" {
			return reportflow.Configf("view.template", "required for TEXT views")
		}
		if view.Chart != nil {
			return reportflow.Configf("view.chart", "only allowed for CHART views")
		}
	default:
		if view.Chart != nil {
			return reportflow.Configf("view.chart", "only allowed for CHART views")
		}
	}
	return nil
}

func prefixed(field string, err error) error {
	if ce, ok := err.(*reportflow.ConfigurationError); ok {
		return &reportflow.ConfigurationError{Field: field + "." + ce.Field, Reason: ce.Reason}
	}
	return err
}
