// Package configbinder binds loose property maps (YAML entries, environment
// overrides) to typed structs using their yaml tags.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties decodes properties into target, a pointer to a struct with yaml tags.
// Strings are converted to numbers, booleans and durations where the field needs it.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	if len(properties) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to %s: %w", targetType.Name(), err)
	}
	return nil
}

// BindStringProperties is BindProperties for map[string]string sources such as
// command-line key=value pairs.
func BindStringProperties(properties map[string]string, target interface{}) error {
	raw := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		raw[k] = v
	}
	return BindProperties(raw, target)
}
