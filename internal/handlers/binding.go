package handlers

import (
	"reflect"

	"github.com/gin-gonic/gin/binding"
	"github.com/huangang/aiusage/internal/services"
)

func init() {
	binding.Validator = structValidator{}
}

// structValidator lets gin's ShouldBind* calls use the service validator, so
// custom tags such as method_type and impact_type apply at the edge too.
type structValidator struct{}

func (v structValidator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}
	value := reflect.ValueOf(obj)
	switch value.Kind() {
	case reflect.Ptr:
		if value.IsNil() {
			return nil
		}
		if value.Elem().Kind() != reflect.Struct {
			return v.ValidateStruct(value.Elem().Interface())
		}
		return services.Validator().Struct(obj)
	case reflect.Struct:
		return services.Validator().Struct(obj)
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := v.ValidateStruct(value.Index(i).Interface()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (structValidator) Engine() any {
	return services.Validator()
}
