package service

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// callTimeLayouts are the timestamp forms the phone system sends. A value
// without offset is taken as local wall-clock time.
var callTimeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

type validationRule struct {
	Rule func(v *validator.Validate)
}

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) validationRule {
	return validationRule{Rule: func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}}
}

func newValidator(rules ...validationRule) *validator.Validate {
	v := validator.New()
	for _, r := range rules {
		r.Rule(v)
	}
	return v
}

func callEventRules() []validationRule {
	return []validationRule{
		registerFn("calltime", callTimeValidator),
	}
}

func callTimeValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, err := parseCallTime(val)
	return err == nil
}

func parseCallTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range callTimeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
