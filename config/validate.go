package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ollama/noisyclip/distort"
	"github.com/ollama/noisyclip/loss"
	"github.com/ollama/noisyclip/zeroshot"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("loss", func(fl validator.FieldLevel) bool {
		_, err := loss.ParseKind(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("distortion", func(fl validator.FieldLevel) bool {
		_, err := distort.ParseKind(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("precision", func(fl validator.FieldLevel) bool {
		_, err := zeroshot.ParsePrecision(fl.Field().String())
		return err == nil
	})
}

// choices listet die gueltigen Werte der eigenen Validierungs-Tags
var choices = map[string][]string{
	"loss":       loss.KindNames,
	"distortion": distort.KindNames,
	"precision":  {"f32", "f16", "bf16"},
}

// describe uebersetzt validator-Fehler in lesbare Meldungen mit Vorschlaegen
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describeField(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("%s must be %s %s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	}

	if options, ok := choices[fe.Tag()]; ok {
		value := fmt.Sprint(fe.Value())
		msg := fmt.Sprintf("unsupported %s %q (valid: %s)", field, value, strings.Join(options, ", "))
		if s := suggest(strings.ToLower(value), options); s != "" {
			msg += fmt.Sprintf(", did you mean %q?", s)
		}
		return msg
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
