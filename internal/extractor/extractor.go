// Package extractor locates values in remote response bodies using gjson
// paths, with an optional regex fallback for bodies that are not JSON.
package extractor

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Field defines where a value lives in a response body. Paths are tried in
// order and the first one that exists wins; Regex is applied to the raw body
// when no path matched.
type Field struct {
	// Paths are gjson paths; "$.a.b" and "a.b" are equivalent and "$" is the whole body.
	Paths []string

	// Regex is a pattern with an optional capture group.
	Regex string
}

// Compile validates the regex once so misconfiguration is reported at startup.
func (f Field) Compile() (*regexp.Regexp, error) {
	if f.Regex == "" {
		return nil, nil
	}
	return regexp.Compile(f.Regex)
}

// String returns the extracted value as a string.
func (f Field) String(body []byte) (string, bool) {
	if res, ok := Lookup(body, f.Paths...); ok {
		return res.String(), true
	}
	if f.Regex == "" {
		return "", false
	}
	re, err := regexp.Compile(f.Regex)
	if err != nil {
		return "", false
	}
	return findRegex(body, re)
}

// Int returns the extracted value as an integer.
func (f Field) Int(body []byte) (int64, bool) {
	if res, ok := Lookup(body, f.Paths...); ok {
		switch res.Type {
		case gjson.Number:
			return res.Int(), true
		case gjson.String:
			v := gjson.Parse(strings.TrimSpace(res.Str))
			if v.Type == gjson.Number {
				return v.Int(), true
			}
		}
	}
	return 0, false
}

// Lookup returns the first existing, non-null value among paths.
func Lookup(body []byte, paths ...string) (gjson.Result, bool) {
	for _, p := range paths {
		res := gjson.GetBytes(body, normalizePath(p))
		if res.Exists() && res.Type != gjson.Null {
			return res, true
		}
	}
	return gjson.Result{}, false
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "$" {
		return "@this"
	}
	return strings.TrimPrefix(path, "$.")
}

// findRegex returns the first capture group, or the full match when the
// pattern has no groups.
func findRegex(body []byte, re *regexp.Regexp) (string, bool) {
	match := re.FindSubmatch(body)
	if match == nil {
		return "", false
	}
	if len(match) > 1 {
		return string(match[1]), true
	}
	return string(match[0]), true
}
