package models

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	return validate
}

// Validate checks an automation definition: struct tags first, then the step graph.
func (a *Automation) Validate() error {
	err := Validator().Struct(a)
	if err != nil {
		return fmt.Errorf("invalid automation %q: %w", a.Name, err)
	}

	return a.ValidateGraph()
}
