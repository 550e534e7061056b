package paths

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go-cdse-download/internal/helpers"
	"go-cdse-download/internal/models"
)

// DefaultPattern is the directory layout used when none is configured.
const DefaultPattern = "{collection}/{year}/{name}"

// Tags usable in a path pattern.
var allowedTags = map[string]struct{}{
	"collection": {},
	"year":       {},
	"month":      {},
	"name":       {},
	"uuid":       {},
}

// Regex to find tags like {tagName}
var tagRegex = regexp.MustCompile(`\{([^}]+)\}`)

// ProductData builds the tag substitution map for a product.
func ProductData(p models.Product) map[string]string {
	data := map[string]string{
		"collection": p.Collection,
		"name":       p.Name,
		"uuid":       p.ID,
	}
	if !p.SensingTime.IsZero() {
		data["year"] = strconv.Itoa(p.SensingTime.Year())
		data["month"] = fmt.Sprintf("%02d", int(p.SensingTime.Month()))
	}
	return data
}

// GeneratePath substitutes placeholders in a pattern string with sanitized
// values from the data map and returns the relative directory path.
func GeneratePath(pattern string, data map[string]string) (string, error) {
	generatedPath := pattern

	for _, match := range tagRegex.FindAllStringSubmatch(pattern, -1) {
		if len(match) < 2 {
			continue
		}
		tagName := match[1]
		tagWithBraces := match[0]

		if _, allowed := allowedTags[tagName]; !allowed {
			return "", fmt.Errorf("unknown tag found in path pattern: %s", tagWithBraces)
		}

		sanitizedValue := helpers.ConvertToSlug(data[tagName])
		if sanitizedValue == "" {
			// Missing or empty values still get a stable directory name.
			sanitizedValue = "empty_" + tagName
		}
		generatedPath = strings.ReplaceAll(generatedPath, tagWithBraces, sanitizedValue)
	}

	cleanedPath := filepath.Clean(generatedPath)
	if cleanedPath == "." || cleanedPath == "" {
		return "", fmt.Errorf("path pattern resulted in an empty path: '%s'", pattern)
	}
	cleanedPath = strings.TrimPrefix(cleanedPath, string(filepath.Separator))

	if strings.Contains(cleanedPath, "..") {
		return "", fmt.Errorf("generated path contains invalid sequence '..': %s", cleanedPath)
	}
	return cleanedPath, nil
}
