package remote

// Params are read after the executor has validated and normalized them, so a
// missing or mistyped value reads as the zero value.

func String(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}

func Bytes(params map[string]any, name string) []byte {
	b, _ := params[name].([]byte)
	return b
}

func Int(params map[string]any, name string, fallback int64) int64 {
	if n, ok := params[name].(int64); ok {
		return n
	}
	return fallback
}

func StringMap(params map[string]any, name string) map[string]string {
	m, _ := params[name].(map[string]string)
	return m
}
