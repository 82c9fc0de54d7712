package internal

import "fmt"

// Flatten returns data with nested keys joined by ".", so that
// {"commit_revision": {"head": {"hash": "a"}}} yields
// "commit_revision.head.hash". Lists keep their whole value under
// "<key>" and "<key>[]" and each element under "<key>[i]".
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range data {
		flattenInto(out, key, value)
	}
	return out
}

func flattenInto(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		out[path] = typed
		for key, child := range typed {
			flattenInto(out, path+"."+key, child)
		}
	case map[string]string:
		for key, child := range typed {
			out[path+"."+key] = child
		}
	case []interface{}:
		out[path] = typed
		out[path+"[]"] = typed
		for i, child := range typed {
			flattenInto(out, fmt.Sprintf("%s[%d]", path, i), child)
		}
	default:
		out[path] = value
	}
}
