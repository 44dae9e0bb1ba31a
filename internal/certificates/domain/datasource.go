package certificates

// Column is a declared data-source column.
type Column struct {
	Name           string     `json:"name"`
	Type           ColumnType `json:"type"`
	ArraySeparator string     `json:"array_separator,omitempty"`
}

// DataSource is the tabular file whose rows feed generation.
type DataSource struct {
	FileRef
	Columns []Column `json:"columns"`
}

// ColumnNames returns the column names in declared order.
func (d *DataSource) ColumnNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (d *DataSource) Column(name string) (Column, bool) {
	if d == nil {
		return Column{}, false
	}
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Validate checks data-source invariants.
func (d *DataSource) Validate() error {
	if d == nil {
		return Validation("data source: nil")
	}
	if err := d.FileRef.Validate(); err != nil {
		return err
	}
	if !d.FileFormat.IsSpreadsheet() {
		return Validation("data source: unsupported file format %q", d.FileFormat)
	}
	return ValidateColumns(d.Columns)
}

// ValidateColumns checks names are unique and types are declared correctly.
func ValidateColumns(columns []Column) error {
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if c.Name == "" {
			return Validation("column: empty name")
		}
		if _, ok := seen[c.Name]; ok {
			return Validation("column: duplicate name %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if !c.Type.Valid() {
			return Validation("column %q: unknown type %q", c.Name, c.Type)
		}
		if c.ArraySeparator != "" && c.Type != ColumnArray {
			return Validation("column %q: array separator only allowed for array columns", c.Name)
		}
	}
	return nil
}

func (d *DataSource) clone() *DataSource {
	if d == nil {
		return nil
	}
	out := *d
	out.Columns = append([]Column(nil), d.Columns...)
	return &out
}
