// Package i18n holds the bilingual user-facing message catalog. Messages
// live in embedded YAML files keyed section.key and interpolate {param}
// placeholders.
package i18n

import (
	"embed"
	"fmt"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

//go:embed en.yaml he.yaml
var catalogFS embed.FS

type Lang string

const (
	EN Lang = "en"
	HE Lang = "he"
)

var catalogs = map[Lang]map[string]string{}

func init() {
	for _, lang := range []Lang{EN, HE} {
		m, err := load(string(lang) + ".yaml")
		if err != nil {
			panic(fmt.Sprintf("i18n: bad catalog %q: %v", lang, err))
		}
		catalogs[lang] = m
	}
}

func load(name string) (map[string]string, error) {
	raw, err := catalogFS.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var nested map[string]map[string]string
	if err := yaml.Unmarshal(raw, &nested); err != nil {
		return nil, err
	}
	flat := make(map[string]string, len(nested)*8)
	for section, keys := range nested {
		for k, v := range keys {
			flat[section+"."+k] = v
		}
	}
	return flat, nil
}

// Normalize maps a free-form language tag (user input, platform hint) to a
// supported catalog language.
func Normalize(tag string) Lang {
	if strings.HasPrefix(strings.ToLower(tag), "he") {
		return HE
	}
	return EN
}

// T resolves key in lang and interpolates {param} placeholders. Missing
// keys fall back to English, then to the key itself so a catalog gap shows
// up in the chat instead of vanishing.
func T(lang Lang, key string, params map[string]string) string {
	msg, ok := catalogs[lang][key]
	if !ok {
		msg, ok = catalogs[EN][key]
	}
	if !ok {
		return key
	}
	for k, v := range params {
		msg = strings.ReplaceAll(msg, "{"+k+"}", v)
	}
	return msg
}

// EscapeMarkdown neutralizes Telegram markdown control characters in text
// that did not originate from this codebase (model output, user input).
func EscapeMarkdown(s string) string {
	r := strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")
	return r.Replace(s)
}
