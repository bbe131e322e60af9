package authz

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultSensitiveKeys are parameter names always redacted in audit copies.
var DefaultSensitiveKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"authorization", "credential", "private_key",
}

const redactedPlaceholder = "[REDACTED]"

// Redact returns a deep copy of params with every sensitive-named field,
// nested included, replaced by a placeholder. Used for audit events only;
// the dispatched parameters are untouched (the policy engine's
// filtered_parameters handle dispatch-side filtering).
func Redact(params map[string]interface{}, sensitiveKeys []string) map[string]interface{} {
	if params == nil {
		return nil
	}
	if len(sensitiveKeys) == 0 {
		sensitiveKeys = DefaultSensitiveKeys
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return map[string]interface{}{"redaction_error": err.Error()}
	}

	doc := string(raw)
	for _, path := range sensitivePaths("", gjson.Parse(doc), sensitiveKeys) {
		if doc, err = sjson.Set(doc, path, redactedPlaceholder); err != nil {
			return map[string]interface{}{"redaction_error": err.Error()}
		}
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return map[string]interface{}{"redaction_error": err.Error()}
	}
	return out
}

// sensitivePaths walks the document collecting dot paths whose final key
// matches a sensitive name (case-insensitive substring).
func sensitivePaths(prefix string, value gjson.Result, sensitiveKeys []string) []string {
	var paths []string
	value.ForEach(func(key, child gjson.Result) bool {
		name := key.String()
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if isSensitiveKey(name, sensitiveKeys) {
			paths = append(paths, path)
			return true
		}
		if child.IsObject() || child.IsArray() {
			paths = append(paths, sensitivePaths(path, child, sensitiveKeys)...)
		}
		return true
	})
	return paths
}

func isSensitiveKey(name string, sensitiveKeys []string) bool {
	lower := strings.ToLower(name)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
