package validator

import (
	"fmt"
	"math"
	"reflect"

	"go.uber.org/multierr"
)

// Validator checks one property of a record.
type Validator interface {
	Validate(data interface{}) error
}

// RangeValidator checks that a numeric struct field lies within [Min, Max].
type RangeValidator struct {
	Field string
	Min   float64
	Max   float64
}

// Validate implements Validator.
func (rv *RangeValidator) Validate(data interface{}) error {
	value, err := numericField(data, rv.Field)
	if err != nil {
		return err
	}
	if math.IsNaN(value) || value < rv.Min || value > rv.Max {
		return fmt.Errorf("field %s value %g is out of range [%g, %g]", rv.Field, value, rv.Min, rv.Max)
	}
	return nil
}

// FiniteValidator checks that numeric struct fields are neither NaN nor
// infinite.
type FiniteValidator struct {
	Fields []string
}

// Validate implements Validator.
func (fv *FiniteValidator) Validate(data interface{}) error {
	var errs error
	for _, name := range fv.Fields {
		value, err := numericField(data, name)
		if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
			err = fmt.Errorf("field %s value %g is not finite", name, value)
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

func numericField(data interface{}, name string) (float64, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0, fmt.Errorf("data must be a struct, got %s", v.Kind())
	}

	field := v.FieldByName(name)
	switch field.Kind() {
	case reflect.Invalid:
		return 0, fmt.Errorf("field %s does not exist", name)
	case reflect.Float32, reflect.Float64:
		return field.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(field.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(field.Uint()), nil
	}
	return 0, fmt.Errorf("field %s is not numeric", name)
}

// Validate runs every validator against data and combines their errors.
func Validate(data interface{}, validators ...Validator) error {
	var err error
	for _, v := range validators {
		err = multierr.Append(err, v.Validate(data))
	}
	return err
}
