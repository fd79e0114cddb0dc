package msgcat

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed messages.*.yaml
var defaultFiles embed.FS

// FallbackLang is consulted when a key is missing in the requested language.
const FallbackLang = "en"

// Catalog loads per-language string templates from embedded defaults and an optional
// override directory. Files are named messages.<lang>.yaml.
// Values are rendered with text/template (missing keys cause errors).
type Catalog struct {
	mu   sync.RWMutex
	data map[string]map[string]string // lang → flattened dot-keys → template text
}

// New loads the embedded default messages and then applies overrides from dir if provided.
func New(overrideDir string) (*Catalog, error) {
	base := &Catalog{data: make(map[string]map[string]string)}

	if err := base.loadEmbedded(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := base.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	return base, nil
}

// langOf extracts <lang> from messages.<lang>.yaml. Files without a language apply to the
// fallback language.
func langOf(name string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(name), ".yaml"), ".yml")
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return FallbackLang
	}
	return strings.ToLower(parts[len(parts)-1])
}

func (c *Catalog) loadEmbedded() error {
	entries, err := fs.ReadDir(defaultFiles, ".")
	if err != nil {
		return fmt.Errorf("read embedded messages: %w", err)
	}
	for _, e := range entries {
		raw, err := fs.ReadFile(defaultFiles, e.Name())
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", e.Name(), err)
		}
		if err := c.applyYAML(langOf(e.Name()), raw); err != nil {
			return fmt.Errorf("parse embedded %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read template dir: %w", err)
	}
	// Sort for deterministic order
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		ext := strings.ToLower(filepath.Ext(n))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, n)
		}
	}
	sort.Strings(files)
	// Guard against duplicate keys across override files of the same language
	seen := make(map[string]string) // lang:key -> filename
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := parseYAMLToFlat(b)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		lang := langOf(name)
		for k := range flat {
			id := lang + ":" + k
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			seen[id] = name
		}
		c.merge(lang, flat)
	}
	return nil
}

func parseYAMLToFlat(b []byte) (map[string]string, error) {
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	flat := make(map[string]string)
	if err := flattenStrings(m, "", flat); err != nil {
		return nil, err
	}
	return flat, nil
}

func (c *Catalog) applyYAML(lang string, b []byte) error {
	flat, err := parseYAMLToFlat(b)
	if err != nil {
		return err
	}
	c.merge(lang, flat)
	return nil
}

func (c *Catalog) merge(lang string, flat map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst, ok := c.data[lang]
	if !ok {
		dst = make(map[string]string)
		c.data[lang] = dst
	}
	for k, v := range flat {
		dst[k] = v // override
	}
}

// flattenStrings turns nested maps into dot keys; list items get their index as key part.
func flattenStrings(src any, prefix string, out map[string]string) error {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch v := src.(type) {
	case map[string]any:
		for k, vv := range v {
			if err := flattenStrings(vv, join(k), out); err != nil {
				return err
			}
		}
		return nil
	case map[any]any: // tolerate legacy YAML decoders
		tmp := make(map[string]any)
		for kk, vv := range v {
			tmp[fmt.Sprint(kk)] = vv
		}
		return flattenStrings(tmp, prefix, out)
	case []any:
		for i, vv := range v {
			if err := flattenStrings(vv, join(strconv.Itoa(i)), out); err != nil {
				return err
			}
		}
		return nil
	case string:
		if prefix == "" {
			return errors.New("string value without key prefix")
		}
		out[prefix] = v
		return nil
	case nil:
		return nil
	default:
		// Only string leaves are allowed to avoid type confusion
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
}

func (c *Catalog) lookup(lang, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key = strings.TrimSpace(key)
	if tpl, ok := c.data[strings.ToLower(strings.TrimSpace(lang))][key]; ok && strings.TrimSpace(tpl) != "" {
		return tpl, true
	}
	tpl, ok := c.data[FallbackLang][key]
	return tpl, ok && strings.TrimSpace(tpl) != ""
}

// Has reports whether key resolves in lang or the fallback language.
func (c *Catalog) Has(lang, key string) bool {
	_, ok := c.lookup(lang, key)
	return ok
}

// Render executes a template by key with the provided data.
// Missing keys cause errors; caller should provide safe fallback.
func (c *Catalog) Render(lang, key string, data any) (string, error) {
	tpl, ok := c.lookup(lang, key)
	if !ok {
		return "", fmt.Errorf("template not found: %s/%s", lang, key)
	}
	t, err := template.New(key).Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Must renders key and falls back to the key itself on error.
func (c *Catalog) Must(lang, key string, data any) string {
	s, err := c.Render(lang, key, data)
	if err != nil {
		return key
	}
	return s
}

// Keys lists the keys directly under prefix for lang (fallback language when lang has none),
// sorted so list items keep their order.
func (c *Catalog) Keys(lang, prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ".") + "."
	collect := func(m map[string]string) []string {
		var out []string
		for k := range m {
			if strings.HasPrefix(k, p) && !strings.Contains(k[len(p):], ".") {
				out = append(out, k)
			}
		}
		return out
	}
	keys := collect(c.data[strings.ToLower(strings.TrimSpace(lang))])
	if len(keys) == 0 {
		keys = collect(c.data[FallbackLang])
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i][len(p):])
		b, berr := strconv.Atoi(keys[j][len(p):])
		if aerr == nil && berr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}
