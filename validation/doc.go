// Package validation validates configuration structs with go-playground
// struct tags and reports failures as INVALID_CONFIG faults keyed by their
// configuration (mapstructure) names.
//
//	type StageConfig struct {
//	    Capacity int `mapstructure:"capacity" validate:"min=1"`
//	}
//	err := validation.Validate(cfg)
package validation
