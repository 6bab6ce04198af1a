package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	logx "bookbot/pkg/logx"
)

var validate = newValidator()

// unknownLevel is never returned by logx.ParseLevel for a known name.
const unknownLevel = logx.Level(-100)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
		return err == nil && d >= 0
	})
	_ = v.RegisterValidation("level", func(fl validator.FieldLevel) bool {
		return logx.ParseLevel(fl.Field().String(), unknownLevel) != unknownLevel
	})
	_ = v.RegisterValidation("filter", func(fl validator.FieldLevel) bool {
		_, err := logx.ParseFilter(fl.Field().String())
		return err == nil
	})
	return v
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// Validate checks cfg after env overrides have been applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required":
		if path == "telegram.token" {
			return fmt.Sprintf("%s is required (or set %s)", path, EnvTelegramToken)
		}
		return path + " is required"
	case "duration":
		return fmt.Sprintf("%s: invalid duration %q", path, fe.Value())
	case "level":
		return fmt.Sprintf("%s: unknown level %q", path, fe.Value())
	case "filter":
		return fmt.Sprintf("%s: invalid filter %q", path, fe.Value())
	case "url":
		return fmt.Sprintf("%s: invalid url %q", path, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s", path, fe.Tag(), fe.Param())
	}
}
