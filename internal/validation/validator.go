// Package validation checks join inputs before any worker starts moving
// data: column existence, key types, partition counts and schemas.
package validation

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/paveg/distjoin/internal/errors"
	"github.com/paveg/distjoin/internal/shuffle"
)

// Validator interface for input validation
type Validator interface {
	Validate() error
}

// ColumnProvider interface for types that provide column information
type ColumnProvider interface {
	HasColumn(name string) bool
	Columns() []string
	Len() int
	Width() int
	Schema() *arrow.Schema
}

// ColumnValidator validates column existence
type ColumnValidator struct {
	df      ColumnProvider
	columns []string
	op      string
}

// NewColumnValidator creates a validator for column operations
func NewColumnValidator(df ColumnProvider, op string, columns ...string) *ColumnValidator {
	return &ColumnValidator{
		df:      df,
		columns: columns,
		op:      op,
	}
}

// Validate checks if all columns exist in the table
func (v *ColumnValidator) Validate() error {
	for _, column := range v.columns {
		if !v.df.HasColumn(column) {
			return errors.NewColumnNotFoundError(v.op, column)
		}
	}
	return nil
}

// LengthValidator validates count consistency
type LengthValidator struct {
	expected int
	actual   int
	op       string
	context  string
}

// NewLengthValidator creates a validator for length consistency
func NewLengthValidator(expected, actual int, op, context string) *LengthValidator {
	return &LengthValidator{
		expected: expected,
		actual:   actual,
		op:       op,
		context:  context,
	}
}

// Validate checks if lengths match
func (v *LengthValidator) Validate() error {
	if v.expected != v.actual {
		message := fmt.Sprintf("%s: expected length %d, got %d", v.context, v.expected, v.actual)
		return errors.NewValidationError(v.op, "", message)
	}
	return nil
}

// JoinKeyValidator validates a pair of join keys: both exist, the left one
// has a hashable type and the right one has the same type.
type JoinKeyValidator struct {
	left, right       ColumnProvider
	leftKey, rightKey string
	op                string
}

// NewJoinKeyValidator creates a validator for join keys
func NewJoinKeyValidator(left, right ColumnProvider, leftKey, rightKey, op string) *JoinKeyValidator {
	return &JoinKeyValidator{left: left, right: right, leftKey: leftKey, rightKey: rightKey, op: op}
}

// Validate checks the keys
func (v *JoinKeyValidator) Validate() error {
	lt, ok := fieldType(v.left, v.leftKey)
	if !ok {
		return errors.NewColumnNotFoundError(v.op, v.leftKey)
	}
	rt, ok := fieldType(v.right, v.rightKey)
	if !ok {
		return errors.NewColumnNotFoundError(v.op, v.rightKey)
	}
	if !shuffle.IsKeyType(lt) {
		return errors.NewUnsupportedTypeError(v.op, v.leftKey, lt.String())
	}
	if !arrow.TypeEqual(lt, rt) {
		return errors.NewValidationError(v.op, v.rightKey,
			fmt.Sprintf("key type %s does not match left key type %s", rt, lt))
	}
	return nil
}

func fieldType(df ColumnProvider, name string) (arrow.DataType, bool) {
	fields, ok := df.Schema().FieldsByName(name)
	if !ok || len(fields) == 0 {
		return nil, false
	}
	return fields[0].Type, true
}

// WorkersValidator validates a worker count
type WorkersValidator struct {
	workers int
}

// NewWorkersValidator creates a validator for a worker count
func NewWorkersValidator(workers int) *WorkersValidator {
	return &WorkersValidator{workers: workers}
}

// Validate checks that there is at least one worker
func (v *WorkersValidator) Validate() error {
	if v.workers < 1 {
		return errors.ErrNoWorkers
	}
	return nil
}

// PartitionsValidator validates that the partitions of one table share a
// schema
type PartitionsValidator struct {
	parts []ColumnProvider
	table string
	op    string
}

// NewPartitionsValidator creates a validator for table partitions
func NewPartitionsValidator(op, table string, parts ...ColumnProvider) *PartitionsValidator {
	return &PartitionsValidator{parts: parts, table: table, op: op}
}

// Validate checks every partition against the first one
func (v *PartitionsValidator) Validate() error {
	if len(v.parts) == 0 {
		return errors.NewInvalidInputError(v.op, fmt.Sprintf("table %s has no partitions", v.table))
	}
	first := v.parts[0].Schema()
	for i, p := range v.parts[1:] {
		if !p.Schema().Equal(first) {
			return errors.NewValidationError(v.op, "",
				fmt.Sprintf("table %s: partition %d schema %s differs from %s", v.table, i+1, p.Schema(), first))
		}
	}
	return nil
}

// CompoundValidator combines multiple validators
type CompoundValidator struct {
	validators []Validator
}

// NewCompoundValidator creates a validator that checks multiple conditions
func NewCompoundValidator(validators ...Validator) *CompoundValidator {
	return &CompoundValidator{
		validators: validators,
	}
}

// Validate runs all validators and returns the first error encountered
func (v *CompoundValidator) Validate() error {
	for _, validator := range v.validators {
		if err := validator.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Convenience validation functions

// ValidateColumns is a convenience function for column validation
func ValidateColumns(df ColumnProvider, op string, columns ...string) error {
	return NewColumnValidator(df, op, columns...).Validate()
}

// ValidateLength is a convenience function for length validation
func ValidateLength(expected, actual int, op, context string) error {
	return NewLengthValidator(expected, actual, op, context).Validate()
}

// ValidateJoinKeys is a convenience function for join key validation
func ValidateJoinKeys(left, right ColumnProvider, leftKey, rightKey, op string) error {
	return NewJoinKeyValidator(left, right, leftKey, rightKey, op).Validate()
}

// ValidateWorkers is a convenience function for worker count validation
func ValidateWorkers(workers int) error {
	return NewWorkersValidator(workers).Validate()
}

// ValidatePartitions is a convenience function for partition validation
func ValidatePartitions(op, table string, parts ...ColumnProvider) error {
	return NewPartitionsValidator(op, table, parts...).Validate()
}
