// Package render turns the dictionaries returned by the stats commands into
// documents for people and programs.
package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	".", `\.`,
	"*", `\*`,
	"?", `\?`,
	"|", `\|`,
	"#", `\#`,
	"@", `\@`,
	":", `\:`,
)

// JSON encodes stats as a JSON object with its keys in order.
func JSON(stats map[string]interface{}) (string, error) {
	doc := "{}"

	for _, key := range sortedKeys(stats) {
		var err error
		doc, err = sjson.Set(doc, pathEscaper.Replace(key), stats[key])
		if err != nil {
			return "", fmt.Errorf("encoding %q: %w", key, err)
		}
	}

	return doc, nil
}

// Get extracts one field from stats using a gjson path, e.g.
// "current-jobs-ready".
func Get(stats map[string]interface{}, path string) (string, bool, error) {
	doc, err := JSON(stats)
	if err != nil {
		return "", false, err
	}

	result := gjson.Get(doc, path)
	if !result.Exists() {
		return "", false, nil
	}

	return result.String(), true, nil
}

// Text writes stats one "key: value" line at a time, sorted by key.
func Text(w io.Writer, stats map[string]interface{}) error {
	for _, key := range sortedKeys(stats) {
		if _, err := fmt.Fprintf(w, "%s: %v\n", key, stats[key]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(stats map[string]interface{}) []string {
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
