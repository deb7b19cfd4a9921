package resource

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"campus-cms/core/rbac"
	"campus-cms/core/uploads"
	"gopkg.in/yaml.v3"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

type FieldType string

const (
	TypeString   FieldType = "string"
	TypeText     FieldType = "text"
	TypeInt      FieldType = "int"
	TypeBool     FieldType = "bool"
	TypeDate     FieldType = "date"
	TypeDateTime FieldType = "datetime"
	TypeEmail    FieldType = "email"
	TypeURL      FieldType = "url"
	TypeRef      FieldType = "ref"
	TypeEnum     FieldType = "enum"
	TypeFile     FieldType = "file"
)

var knownTypes = map[FieldType]int{
	TypeString: 255, TypeText: 65535, TypeInt: 0, TypeBool: 0, TypeDate: 0, TypeDateTime: 0,
	TypeEmail: 254, TypeURL: 2048, TypeRef: 0, TypeEnum: 0, TypeFile: 0,
}

type Field struct {
	Name       string       `yaml:"name" json:"name"`
	Type       FieldType    `yaml:"type" json:"type"`
	Required   bool         `yaml:"required" json:"required"`
	Unique     bool         `yaml:"unique" json:"unique,omitempty"`
	MaxLength  int          `yaml:"max_length" json:"max_length,omitempty"`
	Values     []string     `yaml:"values" json:"values,omitempty"`
	References string       `yaml:"references" json:"references,omitempty"`
	Kind       uploads.Kind `yaml:"kind" json:"kind,omitempty"`
}

func (f Field) textual() bool {
	switch f.Type {
	case TypeString, TypeText, TypeEmail, TypeURL, TypeEnum:
		return true
	}
	return false
}

type Order struct {
	Column    string `yaml:"column" json:"column"`
	Direction string `yaml:"direction" json:"direction"`
}

// PublicFilter restricts the public API to rows where Column equals Equals.
type PublicFilter struct {
	Column string `yaml:"column" json:"column"`
	Equals string `yaml:"equals" json:"equals"`
}

type Schema struct {
	Name       string        `yaml:"name" json:"name"`
	Label      string        `yaml:"label" json:"label"`
	Table      string        `yaml:"table" json:"-"`
	RoleNames  []string      `yaml:"roles" json:"-"`
	PageSize   int           `yaml:"page_size" json:"page_size"`
	Order      Order         `yaml:"order" json:"order"`
	Searchable []string      `yaml:"searchable" json:"searchable"`
	Filters    []string      `yaml:"filters" json:"filters"`
	ReadOnly   bool          `yaml:"readonly" json:"readonly"`
	Public     *PublicFilter `yaml:"public" json:"-"`
	Fields     []Field       `yaml:"fields" json:"fields"`

	Roles  []rbac.Role       `yaml:"-" json:"-"`
	fields map[string]*Field `yaml:"-"`
	refs   map[string]*Schema
}

func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// FileField returns the schema's upload field, if any.
func (s *Schema) FileField() *Field {
	for i := range s.Fields {
		if s.Fields[i].Type == TypeFile {
			return &s.Fields[i]
		}
	}
	return nil
}

func (s *Schema) columns() []string {
	cols := make([]string, 0, len(s.Fields)+3)
	cols = append(cols, "id")
	for _, f := range s.Fields {
		cols = append(cols, f.Name)
	}
	if _, ok := s.fields["created_at"]; !ok {
		cols = append(cols, "created_at")
	}
	if _, ok := s.fields["updated_at"]; !ok {
		cols = append(cols, "updated_at")
	}
	return cols
}

type Catalogue struct {
	schemas []*Schema
	byName  map[string]*Schema
}

func DefaultCatalogue() (*Catalogue, error) {
	return LoadCatalogue(defaultCatalogue)
}

func LoadCatalogue(data []byte) (*Catalogue, error) {
	var doc struct {
		Resources []*Schema `yaml:"resources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	c := &Catalogue{byName: map[string]*Schema{}}
	for _, s := range doc.Resources {
		if err := prepareSchema(s); err != nil {
			return nil, err
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate resource %q", s.Name)
		}
		c.byName[s.Name] = s
		c.schemas = append(c.schemas, s)
	}
	for _, s := range c.schemas {
		s.refs = map[string]*Schema{}
		for _, f := range s.Fields {
			if f.Type != TypeRef {
				continue
			}
			target, ok := c.byName[f.References]
			if !ok {
				return nil, fmt.Errorf("%s.%s references unknown resource %q", s.Name, f.Name, f.References)
			}
			s.refs[f.Name] = target
		}
	}
	return c, nil
}

func prepareSchema(s *Schema) error {
	if err := ValidateIdentifier(s.Name); err != nil {
		return fmt.Errorf("resource name: %w", err)
	}
	if s.Table == "" {
		s.Table = s.Name
	}
	if err := ValidateIdentifier(s.Table); err != nil {
		return fmt.Errorf("%s table: %w", s.Name, err)
	}
	if s.Label == "" {
		s.Label = s.Name
	}
	if s.PageSize <= 0 {
		s.PageSize = DefaultPageSize
	}
	if s.PageSize > MaxPageSize {
		s.PageSize = MaxPageSize
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("%s: no fields declared", s.Name)
	}
	s.fields = map[string]*Field{}
	files := 0
	for i := range s.Fields {
		f := &s.Fields[i]
		if err := ValidateIdentifier(f.Name); err != nil {
			return fmt.Errorf("%s field: %w", s.Name, err)
		}
		if f.Name == "id" {
			return fmt.Errorf("%s: id is implicit", s.Name)
		}
		if _, dup := s.fields[f.Name]; dup {
			return fmt.Errorf("%s: duplicate field %q", s.Name, f.Name)
		}
		def, ok := knownTypes[f.Type]
		if !ok {
			return fmt.Errorf("%s.%s: unknown type %q", s.Name, f.Name, f.Type)
		}
		if f.MaxLength <= 0 {
			f.MaxLength = def
		}
		switch f.Type {
		case TypeEnum:
			if len(f.Values) == 0 {
				return fmt.Errorf("%s.%s: enum needs values", s.Name, f.Name)
			}
		case TypeRef:
			if f.References == "" {
				return fmt.Errorf("%s.%s: ref needs references", s.Name, f.Name)
			}
		case TypeFile:
			files++
			if f.Kind == "" {
				f.Kind = uploads.KindDocument
			}
			if f.Kind != uploads.KindImage && f.Kind != uploads.KindDocument {
				return fmt.Errorf("%s.%s: unknown file kind %q", s.Name, f.Name, f.Kind)
			}
		}
		s.fields[f.Name] = f
	}
	if files > 1 {
		return fmt.Errorf("%s: at most one file field is supported", s.Name)
	}
	for _, col := range s.Searchable {
		f, ok := s.fields[col]
		if !ok || !f.textual() {
			return fmt.Errorf("%s: searchable column %q must be a declared text field", s.Name, col)
		}
	}
	for _, col := range s.Filters {
		f, ok := s.fields[col]
		if !ok || f.Type == TypeFile || f.Type == TypeText {
			return fmt.Errorf("%s: filter column %q must be a declared scalar field", s.Name, col)
		}
	}
	if s.Order.Column == "" {
		s.Order.Column = "id"
	}
	if !isImplicitColumn(s.Order.Column) {
		if _, ok := s.fields[s.Order.Column]; !ok {
			return fmt.Errorf("%s: order column %q is not declared", s.Name, s.Order.Column)
		}
	}
	switch strings.ToLower(s.Order.Direction) {
	case "", "asc":
		s.Order.Direction = "ASC"
	case "desc":
		s.Order.Direction = "DESC"
	default:
		return fmt.Errorf("%s: order direction %q", s.Name, s.Order.Direction)
	}
	if s.Public != nil {
		f, ok := s.fields[s.Public.Column]
		if !ok || f.Type == TypeFile {
			return fmt.Errorf("%s: public column %q is not declared", s.Name, s.Public.Column)
		}
	}
	for _, raw := range s.RoleNames {
		r, err := rbac.ParseRole(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		s.Roles = append(s.Roles, r)
	}
	if len(s.Roles) == 0 {
		return fmt.Errorf("%s: at least one role is required", s.Name)
	}
	return nil
}

func isImplicitColumn(col string) bool {
	return col == "id" || col == "created_at" || col == "updated_at"
}

func (c *Catalogue) Get(name string) (*Schema, bool) {
	s, ok := c.byName[name]
	return s, ok
}

func (c *Catalogue) All() []*Schema {
	out := make([]*Schema, len(c.schemas))
	copy(out, c.schemas)
	return out
}

// Grants expands each schema's roles through the default matrix. Readonly
// schemas only grant view. The audit log is a super_admin capability.
func (c *Catalogue) Grants() []rbac.Grant {
	matrix := rbac.DefaultMatrix()
	var out []rbac.Grant
	for _, s := range c.schemas {
		for _, role := range s.Roles {
			for _, action := range matrix[role] {
				if s.ReadOnly && action.Mutates() {
					continue
				}
				out = append(out, rbac.Grant{Role: role, Resource: s.Name, Action: action})
			}
		}
	}
	out = append(out, rbac.Grant{Role: rbac.RoleSuperAdmin, Resource: AuditResource, Action: rbac.ActionView})
	return out
}

// AuditResource names the audit log in the capability table.
const AuditResource = "audit"

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var reservedWords = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"UNION": true, "INTO": true, "FROM": true, "WHERE": true,
	"TABLE": true, "GRANT": true, "ORDER": true, "GROUP": true,
	"USER": true, "KEY": true, "VALUE": true,
}

// ValidateIdentifier guards every column and table name that reaches SQL text.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("identifier too long (max 63 chars): %q", name)
	}
	if !identifierRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	if reservedWords[strings.ToUpper(name)] {
		return fmt.Errorf("identifier %q is a reserved word", name)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
