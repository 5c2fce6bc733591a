package jsonvalue

// ShallowMerge merges src into dst, mutating and returning dst. When
// preferSrc is true, keys present in both win from src (the "static wins"
// rule); otherwise dst's existing value is kept (the pass_through rule,
// where computed output wins over static fields).
func ShallowMerge(dst map[string]interface{}, src map[string]interface{}, preferSrc bool) map[string]interface{} {
	if dst == nil {
		dst = map[string]interface{}{}
	}
	for k, v := range src {
		if _, exists := dst[k]; exists && !preferSrc {
			continue
		}
		dst[k] = v
	}
	return dst
}

// CloneShallow returns a shallow copy of a decoded JSON object, used to seed
// pass_through output from the original payload.
func CloneShallow(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
