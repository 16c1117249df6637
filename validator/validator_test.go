package validator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"
)

type sample struct {
	Percent float64
	Count   int64
	Size    uint32
	Name    string
}

func TestRangeValidator(t *testing.T) {
	tests := []struct {
		name    string
		v       RangeValidator
		data    interface{}
		wantErr bool
	}{
		{"float in range", RangeValidator{"Percent", 0, 100}, sample{Percent: 60}, false},
		{"float at bound", RangeValidator{"Percent", 0, 100}, &sample{Percent: 100}, false},
		{"float above", RangeValidator{"Percent", 0, 100}, sample{Percent: 100.5}, true},
		{"nan", RangeValidator{"Percent", 0, 100}, sample{Percent: math.NaN()}, true},
		{"int below", RangeValidator{"Count", 0, 10}, sample{Count: -1}, true},
		{"uint in range", RangeValidator{"Size", 1, 10}, sample{Size: 4}, false},
		{"not numeric", RangeValidator{"Name", 0, 1}, sample{}, true},
		{"missing field", RangeValidator{"Nope", 0, 1}, sample{}, true},
		{"not a struct", RangeValidator{"Percent", 0, 1}, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_CombinesErrors(t *testing.T) {
	err := Validate(sample{Percent: 200, Count: -5},
		&RangeValidator{Field: "Percent", Min: 0, Max: 100},
		&RangeValidator{Field: "Count", Min: 0, Max: 10},
		&RangeValidator{Field: "Size", Min: 0, Max: 10},
	)
	assert.Len(t, multierr.Errors(err), 2)

	assert.NoError(t, Validate(sample{}))
}

type capacity struct {
	Total float64
	Free  float64
	Count int
	Name  string
}

func TestFiniteValidator(t *testing.T) {
	v := &FiniteValidator{Fields: []string{"Total", "Free", "Count"}}

	assert.NoError(t, v.Validate(capacity{Total: 1000, Free: 400, Count: 3}))
	assert.ErrorContains(t, v.Validate(&capacity{Total: math.Inf(1)}), "field Total value +Inf is not finite")
	assert.Len(t, multierr.Errors(v.Validate(capacity{Total: math.NaN(), Free: math.Inf(-1)})), 2)

	bad := &FiniteValidator{Fields: []string{"Name", "Missing"}}
	assert.Len(t, multierr.Errors(bad.Validate(capacity{})), 2)
}
