package util

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

var ErrUnsafePath = errors.New("path must be relative and stay inside its base directory")

// ParseTags parses a tag string like "[a, 'b', #c]" into a clean list.
func ParseTags(tagStr string) []string {
	if tagStr == "" {
		return []string{}
	}

	// Remove brackets if present
	tagStr = strings.Trim(tagStr, "[]")

	return NormalizeTags(strings.Split(tagStr, ","))
}

// NormalizeTags trims whitespace, quotes and a leading '#', dropping empty
// and repeated tags while keeping the original order.
func NormalizeTags(tags []string) []string {
	cleanTags := []string{}
	seen := make(map[string]bool, len(tags))

	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		tag = strings.Trim(tag, "\"'")
		tag = strings.TrimPrefix(tag, "#")
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		cleanTags = append(cleanTags, tag)
	}

	return cleanTags
}

// DedupeStrings trims entries and drops empty or repeated values, keeping
// first occurrences in order.
func DedupeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// CleanRelPath validates a stored relative identifier such as
// "uuid_demo.mp4" or "douyin/alice.json".
func CleanRelPath(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", ErrUnsafePath
	}
	slashed := filepath.ToSlash(rel)
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", ErrUnsafePath
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", ErrUnsafePath
		}
	}
	return path.Clean(slashed), nil
}

// SafeJoin joins base and a validated relative identifier.
func SafeJoin(base, rel string) (string, error) {
	clean, err := CleanRelPath(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.FromSlash(clean)), nil
}
