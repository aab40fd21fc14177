package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// tree renders cfg as the generic JSON tree the path helpers walk.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath returns the value at a dotted path such as "delivery.maxChunkSize"
// or "telegram.adminIds.0". An unset optional key yields nil.
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}
	var node any = m
	for _, key := range strings.Split(path, ".") {
		switch v := node.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				// Optional keys are omitted from the tree while unset.
				if _, err := settingType(path); err == nil {
					return nil, nil
				}
				return nil, fmt.Errorf("unknown config key %q", path)
			}
			node = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("%s: no list item %q", path, key)
			}
			node = v[i]
		default:
			return nil, fmt.Errorf("%s: %q is not a section", path, key)
		}
	}
	return node, nil
}

// SetByPath assigns one setting. Keys are resolved against the Config
// struct, so unset optional keys can be set too; unknown keys and whole
// sections are rejected. String input is converted to the setting's type
// and list settings take a comma separated value.
func SetByPath(cfg *Config, path string, value any) error {
	leaf, err := settingType(path)
	if err != nil {
		return err
	}
	converted, err := convertSetting(leaf, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	m, err := tree(cfg)
	if err != nil {
		return err
	}
	parts := strings.Split(path, ".")
	section := m
	for _, key := range parts[:len(parts)-1] {
		next, ok := section[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			section[key] = next
		}
		section = next
	}
	section[parts[len(parts)-1]] = converted

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// settingType follows the json tags of Config down path and returns the
// type of the setting it names.
func settingType(path string) (reflect.Type, error) {
	t := reflect.TypeOf(Config{})
	for _, key := range strings.Split(path, ".") {
		if t.Kind() != reflect.Struct {
			return nil, fmt.Errorf("unknown config key %q", path)
		}
		field, ok := fieldByTag(t, key)
		if !ok {
			return nil, fmt.Errorf("unknown config key %q", path)
		}
		t = field.Type
	}
	if t.Kind() == reflect.Struct {
		return nil, fmt.Errorf("%s is a section; set one of its keys", path)
	}
	return t, nil
}

func fieldByTag(t reflect.Type, key string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == key {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// convertSetting turns a string value into the JSON shape of the setting.
func convertSetting(t reflect.Type, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	switch t.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", s)
		}
		return b, nil
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a whole number, got %q", s)
		}
		return n, nil
	case reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", s)
		}
		return f, nil
	case reflect.Slice:
		return []string(splitList(s)), nil
	default:
		return s, nil
	}
}

// Sanitize returns a copy of cfg with credentials masked, for display.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var masked Config
	if err := json.Unmarshal(data, &masked); err != nil {
		return cfg
	}

	for _, secret := range []*string{
		&masked.Telegram.Token,
		&masked.Assessor.APIKey,
		&masked.Webhook.SecretToken,
	} {
		if *secret != "" {
			*secret = maskString(*secret)
		}
	}
	if masked.Dedup.RedisURL != "" {
		masked.Dedup.RedisURL = maskURLPassword(masked.Dedup.RedisURL)
	}
	return &masked
}

// maskURLPassword hides the password of a URL such as redis://:pw@host:6379.
func maskURLPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into dotted paths for "factbot config list".
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flatten(path, sub, out)
			continue
		}
		out[path] = v
	}
}
