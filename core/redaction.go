package core

import "strings"

const RedactedValue = "[REDACTED]"

// RedactSensitiveMap masks values whose keys look like credentials before
// they reach logs or ledger rows.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(metadata)
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	for _, marker := range []string{
		"password",
		"secret",
		"token",
		"authorization",
		"code_verifier",
		"device_code",
		"user_code",
		"refresh",
		"credential",
		"signature",
		"assertion",
		"api_key",
		"card_number",
	} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "agent_id",
		"owner_id",
		"client_id",
		"grant_id",
		"step_up_id",
		"transaction_id",
		"credential_id",
		"token_id",
		"webhook_id",
		"idempotency_key",
		"trace_id",
		"request_id":
		return true
	default:
		return false
	}
}
