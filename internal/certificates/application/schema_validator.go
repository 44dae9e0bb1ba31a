package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	certificates "certgen-cloud/internal/certificates/domain"
	"certgen-cloud/internal/observability/metrics"
)

// InvalidColumn is a column whose stored values cannot take the requested type.
type InvalidColumn struct {
	Name   string                  `json:"name"`
	ToType certificates.ColumnType `json:"to_type"`
}

// SchemaConflictError rejects a column update; nothing was persisted.
type SchemaConflictError struct {
	InvalidColumns []InvalidColumn
}

func (e *SchemaConflictError) Error() string {
	parts := make([]string, len(e.InvalidColumns))
	for i, c := range e.InvalidColumns {
		parts[i] = fmt.Sprintf("%s->%s", c.Name, c.ToType)
	}
	return "certificates: stored values do not fit new column types: " + strings.Join(parts, ", ")
}

// Unwrap exposes the conflict as a validation failure.
func (e *SchemaConflictError) Unwrap() error {
	return certificates.ErrValidation
}

// ValidateColumns reports the requested type changes that already-ingested
// values cannot satisfy, without changing anything.
func (s *Service) ValidateColumns(ctx context.Context, actor Actor, id string, requested []certificates.Column) ([]InvalidColumn, error) {
	c, err := loadOwned(ctx, s.stores.Certificates, actor, id)
	if err != nil {
		return nil, err
	}
	ds := c.DataSource()
	if ds == nil {
		return nil, certificates.NotFound("certificate %s has no data source", id)
	}
	if err := certificates.ValidateColumns(requested); err != nil {
		return nil, err
	}
	invalid, _, err := checkRetypes(ctx, s.stores.Rows, id, ds.Columns, requested)
	return invalid, err
}

// UpdateColumns persists the requested column set when every stored value of
// every retyped column converts to its new type. Otherwise it returns a
// *SchemaConflictError and persists nothing. Typed values of retyped columns
// are re-coerced from their ingested text in the same transaction.
func (s *Service) UpdateColumns(ctx context.Context, actor Actor, id string, requested []certificates.Column) (*certificates.Certificate, error) {
	out, err := s.mutate(ctx, actor, id, func(ctx context.Context, st Stores, c *certificates.Certificate) ([]certificates.Event, error) {
		ds := c.DataSource()
		if ds == nil {
			return nil, certificates.NotFound("certificate %s has no data source", id)
		}
		if err := certificates.ValidateColumns(requested); err != nil {
			return nil, err
		}
		invalid, recoded, err := checkRetypes(ctx, st.Rows, id, ds.Columns, requested)
		if err != nil {
			return nil, err
		}
		if len(invalid) > 0 {
			return nil, &SchemaConflictError{InvalidColumns: invalid}
		}
		for _, column := range recoded {
			if err := st.Rows.UpdateColumnValues(ctx, id, column.name, column.values); err != nil {
				return nil, err
			}
		}
		for _, name := range droppedColumns(ds.Columns, requested) {
			if err := st.Rows.DropColumn(ctx, id, name); err != nil {
				return nil, err
			}
		}
		return c.UpdateColumns(requested, s.clock.Now())
	})
	if err != nil {
		var conflict *SchemaConflictError
		if errors.As(err, &conflict) {
			metrics.IncSchemaValidation(metrics.SchemaRejected)
			s.logger.Info("column update rejected", "certificate_id", id, "invalid", len(conflict.InvalidColumns))
		}
		return nil, err
	}
	metrics.IncSchemaValidation(metrics.SchemaAccepted)
	return out, nil
}

type recodedColumn struct {
	name   string
	values []certificates.ColumnValue
}

// checkRetypes diffs requested against current by name and checks the
// ingested text of every stored cell of each retyped column against its target
// type. Every retyped column is checked so the caller sees all conflicts at once.
func checkRetypes(ctx context.Context, rows certificates.RowRepository, certificateID string, current, requested []certificates.Column) ([]InvalidColumn, []recodedColumn, error) {
	currentTypes := make(map[string]certificates.ColumnType, len(current))
	for _, c := range current {
		currentTypes[c.Name] = c.Type
	}

	var invalid []InvalidColumn
	var recoded []recodedColumn
	for _, column := range requested {
		from, ok := currentTypes[column.Name]
		if !ok || from == column.Type {
			continue
		}
		stored, err := rows.ListColumnValues(ctx, certificateID, column.Name)
		if err != nil {
			return nil, nil, err
		}
		values := make([]certificates.ColumnValue, 0, len(stored))
		failed := false
		for _, cell := range stored {
			if !certificates.CanConvert(column.Type, cell.Raw) {
				failed = true
				break
			}
			value, err := certificates.Coerce(column.Type, cell.Raw)
			if err != nil {
				failed = true
				break
			}
			values = append(values, certificates.ColumnValue{RowID: cell.RowID, Value: value, Raw: cell.Raw})
		}
		if failed {
			invalid = append(invalid, InvalidColumn{Name: column.Name, ToType: column.Type})
			continue
		}
		recoded = append(recoded, recodedColumn{name: column.Name, values: values})
	}
	return invalid, recoded, nil
}

// droppedColumns lists current column names missing from requested. Cells of
// added columns need no rewrite: a missing cell reads as blank.
func droppedColumns(current, requested []certificates.Column) []string {
	keep := make(map[string]struct{}, len(requested))
	for _, c := range requested {
		keep[c.Name] = struct{}{}
	}
	var dropped []string
	for _, c := range current {
		if _, ok := keep[c.Name]; !ok {
			dropped = append(dropped, c.Name)
		}
	}
	return dropped
}
