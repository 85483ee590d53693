package exec

// Config accessors for node data maps. Node config arrives as JSON-decoded
// maps, so numbers are float64 and everything needs shape checks.

// ConfString returns config[key] as a string
func ConfString(config map[string]interface{}, key string) string {
	if config == nil {
		return ""
	}
	if s, ok := config[key].(string); ok {
		return s
	}
	return ""
}

// ConfBool returns config[key] as a bool
func ConfBool(config map[string]interface{}, key string) bool {
	if config == nil {
		return false
	}
	if b, ok := config[key].(bool); ok {
		return b
	}
	return false
}

// ConfInt returns config[key] as an int, accepting JSON float64
func ConfInt(config map[string]interface{}, key string, defaultValue int) int {
	if config == nil {
		return defaultValue
	}
	switch v := config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return defaultValue
}

// ConfStringSlice returns config[key] as a string slice, tolerating
// mixed-type arrays by keeping only the strings.
func ConfStringSlice(config map[string]interface{}, key string) []string {
	if config == nil {
		return nil
	}
	arr, ok := config[key].([]interface{})
	if !ok {
		return nil
	}
	result := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// ConfMap returns config[key] as a nested map
func ConfMap(config map[string]interface{}, key string) map[string]interface{} {
	if config == nil {
		return nil
	}
	if m, ok := config[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

// ConfMapSlice returns config[key] as a slice of maps, skipping entries of
// other shapes.
func ConfMapSlice(config map[string]interface{}, key string) []map[string]interface{} {
	if config == nil {
		return nil
	}
	arr, ok := config[key].([]interface{})
	if !ok {
		return nil
	}
	result := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			result = append(result, m)
		}
	}
	return result
}
