package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/huangang/aiusage/internal/impact"
	"github.com/huangang/aiusage/internal/models"
)

// custom validation tags
const (
	notBlankTag   = "notblank"
	methodTypeTag = "method_type"
	impactTypeTag = "impact_type"
	frequencyTag  = "frequency"
	timeUnitTag   = "time_unit"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")

	validate = validator.New()
	validate.SetTagName("binding")
	if err := registerValidators(validate); err != nil {
		panic(err)
	}
}

// registerValidators adds the domain tags and their English messages to v.
func registerValidators(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	validations := map[string]validator.Func{
		notBlankTag:   notBlankValidation,
		methodTypeTag: stringIn(isMethodType),
		impactTypeTag: stringIn(impact.IsValidType),
		frequencyTag:  stringIn(impact.IsValidFrequency),
		timeUnitTag:   stringIn(impact.IsValidTimeUnit),
	}
	for tag, fn := range validations {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}

	if err := en_translations.RegisterDefaultTranslations(v, translator); err != nil {
		return fmt.Errorf("register translations: %w", err)
	}
	registerFn := func(ut.Translator) error { return nil }
	for tag := range validations {
		if err := v.RegisterTranslation(tag, translator, registerFn, translateCustomValidationErrs); err != nil {
			return fmt.Errorf("register %s translation: %w", tag, err)
		}
	}
	return nil
}

func translateCustomValidationErrs(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return fe.Field() + " cannot be blank"
	case methodTypeTag:
		return fe.Field() + " must be one of workflow, task, experiment"
	case impactTypeTag:
		return fe.Field() + " must be one of cost_savings, time_savings, quality, new_capability"
	case frequencyTag:
		return fe.Field() + " must be one of one_time, daily, weekly, monthly, quarterly"
	case timeUnitTag:
		return fe.Field() + " must be one of minutes, hours, days, weeks"
	default:
		return fe.Error()
	}
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

func stringIn(valid func(string) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				return true
			}
			field = field.Elem()
		}
		if field.Kind() != reflect.String {
			return false
		}
		return valid(field.String())
	}
}

func isMethodType(s string) bool {
	switch s {
	case models.MethodWorkflow, models.MethodTask, models.MethodExperiment:
		return true
	}
	return false
}

// Validator returns the shared validator. It reads the binding tags, so it
// can also serve as gin's binding engine.
func Validator() *validator.Validate {
	return validate
}

// validateStruct runs struct validation and folds failures into ErrValidation.
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	return TranslateValidation(err)
}

// TranslateValidation turns validator errors into one readable ErrValidation.
// Other errors are returned unchanged.
func TranslateValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(translator))
	}
	return validationErr("%s", strings.Join(msgs, "; "))
}
