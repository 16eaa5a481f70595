package locale

import (
	"encoding/json"
	"fmt"
	"time"
)

// contentTTL is how long fetched content is considered fresh. Expired
// entries remain usable as a fallback but trigger a background refresh.
const contentTTL = 10 * time.Minute

// platformKeySuffix selects platform-specific overrides the server's
// content bundles publish next to the plain keys.
const platformKeySuffix = "-android"

// Content is one locale's parsed bundle.
type Content struct {
	Tag       string
	FetchedAt time.Time

	root map[string]any
}

// ParseContent decodes a bundle. The payload must be a JSON object of
// nested string keys.
func ParseContent(tag string, raw []byte, fetchedAt time.Time) (*Content, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("locale: invalid content for %q: %w", tag, err)
	}
	return &Content{Tag: tag, FetchedAt: fetchedAt, root: root}, nil
}

// Expired reports whether the bundle has outlived the TTL.
func (c *Content) Expired() bool {
	return time.Since(c.FetchedAt) > contentTTL
}

// Lookup resolves a key. The deepest object path is tried first, walking up
// to shorter prefixes; at each level the suffixed variant of the value key
// wins over the plain one.
func (c *Content) Lookup(key Key) (string, bool) {
	if len(key.Path) == 0 {
		return "", false
	}

	valueKey := key.Path[len(key.Path)-1]

	if len(key.Path) == 1 {
		return stringAt(c.root, valueKey)
	}

	for depth := len(key.Path) - 1; depth >= 1; depth-- {
		obj, ok := objectAt(c.root, key.Path[:depth])
		if !ok {
			continue
		}
		if v, ok := stringAt(obj, valueKey); ok {
			return v, true
		}
	}
	return "", false
}

func objectAt(root map[string]any, path []string) (map[string]any, bool) {
	obj := root
	for _, segment := range path {
		next, ok := obj[segment].(map[string]any)
		if !ok {
			return nil, false
		}
		obj = next
	}
	return obj, true
}

func stringAt(obj map[string]any, key string) (string, bool) {
	if v, ok := obj[key+platformKeySuffix].(string); ok && v != "" {
		return v, true
	}
	if v, ok := obj[key].(string); ok && v != "" {
		return v, true
	}
	return "", false
}
