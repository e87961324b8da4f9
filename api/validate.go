package api

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/shopspring/decimal"

	"github.com/pta-hub/dues-engine/generic"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	// custom validation tags
	notBlankTag    = "notblank"
	decimalGT0Tag  = "decimal_gt0"
	decimalGTE0Tag = "decimal_gte0"
	isoDateTag     = "isodate"
)

const dateLayout = "2006-01-02"

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report JSON field names, which are what clients send.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Decimals validate as their string form.
	validate.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	_ = validate.RegisterValidation(decimalGT0Tag, decimalValidation(func(d decimal.Decimal) bool { return d.IsPositive() }))
	_ = validate.RegisterValidation(decimalGTE0Tag, decimalValidation(func(d decimal.Decimal) bool { return !d.IsNegative() }))
	_ = validate.RegisterValidation(isoDateTag, isoDateValidation)

	registerCustomValidationsTranslations(notBlankTag, decimalGT0Tag, decimalGTE0Tag, isoDateTag)
}

// A noop register func is enough: the messages come from translateCustomValidationErrs.
func registerCustomValidationsTranslations(tags ...string) {
	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range tags {
		_ = validate.RegisterTranslation(tag, translator, registerFn, translateCustomValidationErrs)
	}
}

func translateCustomValidationErrs(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return "this field cannot be blank"
	case decimalGT0Tag:
		return "must be greater than zero"
	case decimalGTE0Tag:
		return "must not be negative"
	case isoDateTag:
		return "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"
	default:
		return ""
	}
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

func decimalValidation(ok func(decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		str, isString := fl.Field().Interface().(string)
		if !isString {
			return false
		}
		d, err := decimal.NewFromString(str)
		return err == nil && ok(d)
	}
}

func isoDateValidation(fl validator.FieldLevel) bool {
	str, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, err := parseDate(str)
	return err == nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp and returns UTC.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// validateStruct runs struct tags and converts failures to a
// generic.ValidationError with translated, per-field messages.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return generic.NewValidationError("body", err.Error())
	}
	out := &generic.ValidationError{}
	for _, fe := range verrs {
		out.Add(fe.Field(), fe.Translate(translator))
	}
	return out
}
