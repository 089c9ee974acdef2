package sanitize

import "strings"

// CategoryMiscellaneous absorbs everything the model invents outside the
// closed set.
const CategoryMiscellaneous = "Miscellaneous"

// Categories is the closed set spreadsheet consumers rely on.
var Categories = []string{
	"Food",
	"Transport",
	"Office Supplies",
	"Utilities",
	"Professional Services",
	"Marketing",
	"Technology",
	"Travel",
	"Entertainment",
	CategoryMiscellaneous,
}

var categoryIndex = func() map[string]string {
	m := make(map[string]string, len(Categories))
	for _, c := range Categories {
		m[strings.ToLower(c)] = c
	}
	return m
}()

// NormalizeCategory snaps a model-proposed category to the closed set,
// case-insensitively; unrecognized values become Miscellaneous.
func NormalizeCategory(s string) string {
	if c, ok := categoryIndex[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c
	}
	return CategoryMiscellaneous
}
