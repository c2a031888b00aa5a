package domain

// Config is the opaque per-scout configuration blob, persisted as JSON.
// Values arrive through encoding/json, so numbers are float64 and lists are
// []any; the accessors below normalise both.
type Config map[string]any

// Str returns the string at key, or def when absent or not a string.
func (c Config) Str(key, def string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return def
}

// Int returns the integer at key, accepting JSON numbers, or def.
func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Float returns the float at key, or def.
func (c Config) Float(key string, def float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Bool returns the boolean at key, or def.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}

// Strings returns the string list at key. Non-string elements are skipped.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Sub returns the nested object at key, or an empty Config.
func (c Config) Sub(key string) Config {
	switch v := c[key].(type) {
	case Config:
		return v
	case map[string]any:
		return Config(v)
	}
	return Config{}
}

// Clone returns a shallow copy of the config.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a copy of c with every key of overlay applied on top.
// Neither receiver nor argument is mutated.
func (c Config) Merge(overlay Config) Config {
	out := c.Clone()
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
