// Package yamlx contains helpers for values decoded from YAML.
package yamlx

import "fmt"

// Values represent a YAML object.
type Values map[string]interface{}

// Merge overrides values into base and return the new values.
// No argument values are modified.
// Value precedence is from left (lowest) to right (highest)
func Merge(base Values, overrides ...Values) Values {
	result := DeepCopy(base)
	for _, v := range overrides {
		merge(result, DeepCopy(v))
	}
	return result
}

// Merge merges src values into dst values.
func merge(dst, src Values) {
	for key, sv := range src {
		dv, found := dst[key]

		sm, sIsMap := asValues(sv)
		dm, dIsMap := asValues(dv)
		if found && sIsMap && dIsMap {
			merge(dm, sm)
		} else {
			dst[key] = sv
		}
	}
}

// DeepCopy returns a copy of mp that shares no maps or slices with mp.
// A nil mp results in an empty (non-nil) Values.
func DeepCopy(mp Values) Values {
	c := make(Values, len(mp))
	for k, v := range mp {
		c[k] = copyValue(v)
	}

	return c
}

func copyValue(v interface{}) interface{} {
	switch x := v.(type) {
	case Values:
		return DeepCopy(x)
	case map[string]interface{}:
		return map[string]interface{}(DeepCopy(x))
	case []interface{}:
		r := make([]interface{}, len(x))
		for i, e := range x {
			r[i] = copyValue(e)
		}
		return r
	default:
		return v
	}
}

// AsValues returns v as Values when v is a string keyed map.
func asValues(v interface{}) (Values, bool) {
	switch x := v.(type) {
	case Values:
		return x, true
	case map[string]interface{}:
		return Values(x), true
	}
	return nil, false
}

// StringKeys returns v with all map[interface{}]interface{} (as decoded by yaml.v2)
// converted to map[string]interface{}. Non string keys are formatted with fmt.
func StringKeys(v interface{}) interface{} {
	switch x := v.(type) {
	case map[interface{}]interface{}:
		r := make(map[string]interface{}, len(x))
		for k, e := range x {
			ks, ok := k.(string)
			if !ok {
				ks = fmt.Sprint(k)
			}
			r[ks] = StringKeys(e)
		}
		return r
	case map[string]interface{}:
		r := make(map[string]interface{}, len(x))
		for k, e := range x {
			r[k] = StringKeys(e)
		}
		return r
	case []interface{}:
		r := make([]interface{}, len(x))
		for i, e := range x {
			r[i] = StringKeys(e)
		}
		return r
	default:
		return v
	}
}

