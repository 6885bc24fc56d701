// Package validation provides struct tag and programmatic validation.
//
// Struct tag validation wraps go-playground/validator and adds the
// resolverspec and realmname tags used by configuration structs:
//
//	type Definition struct {
//	    Spec string `mapstructure:"spec" validate:"required,resolverspec"`
//	}
//	err := validation.Validate(def)
//
// Programmatic validation collects field errors:
//
//	err := validation.New().Required("name", name).Validate()
//
// Both forms return an *errors.AppError with an INVALID_INPUT code and the
// offending fields in Details["fields"].
package validation
