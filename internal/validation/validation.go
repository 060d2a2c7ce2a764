// Package validation wraps go-playground/validator with JSON field names and
// English messages, and converts failures into field-level apperr errors.
package validation

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/pkg/errors"
	"youth-mis/internal/apperr"
)

var (
	requiredTag  = "required"
	requiredText = "this field is required"
)

type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

func New() *Validator {
	english := en.New()
	translator, _ := ut.New(english, english).GetTranslator("en")
	validate := validator.New()
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterTranslation(
		requiredTag, translator,
		func(t ut.Translator) error { return t.Add(requiredTag, requiredText, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(requiredTag, fe.Field())
			return s
		},
	)
	return &Validator{validate: validate, translator: translator}
}

// Struct validates v and reports the first failing field.
func (v *Validator) Struct(op string, s any) error {
	return v.convert(op, v.validate.Struct(s))
}

// Var validates a single value against tag, reporting failures under field.
func (v *Validator) Var(op, field string, value any, tag string) error {
	err := v.validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperr.FieldError(op, field, verrs[0].Translate(v.translator))
	}
	return apperr.Wrap(apperr.KindValidation, op, err)
}

// Fields returns every failing field of s with its message, in order.
func (v *Validator) Fields(s any) map[string]string {
	err := v.validate.Struct(s)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Translate(v.translator)
	}
	return out
}

func (v *Validator) convert(op string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.FieldError(op, fe.Field(), fe.Translate(v.translator))
	}
	return apperr.Wrap(apperr.KindValidation, op, err)
}

// Partial validates only the fields of s named by their JSON names. A name
// that s does not declare is reported as a field error.
func (v *Validator) Partial(op string, s any, jsonFields []string) error {
	names := JSONFields(s)
	goNames := make([]string, 0, len(jsonFields))
	for _, f := range jsonFields {
		goName, ok := names[f]
		if !ok {
			return apperr.FieldError(op, f, "unknown field")
		}
		goNames = append(goNames, goName)
	}
	if len(goNames) == 0 {
		return nil
	}
	return v.convert(op, v.validate.StructPartial(s, goNames...))
}

// JSONFields maps the JSON names of a struct's exported fields to their Go
// names.
func JSONFields(s any) map[string]string {
	t := reflect.TypeOf(s)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	out := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = f.Name
	}
	return out
}
