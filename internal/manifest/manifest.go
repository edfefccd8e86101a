// Package manifest reads the release manifest (versions.json) published by an
// archive endpoint next to its per-version bundles.
package manifest

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FileName is the manifest's name under the endpoint base URL.
const FileName = "versions.json"

//go:embed versions.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

// Versions is the decoded release manifest.
type Versions struct {
	Versions []string `json:"versions"`
	Latest   string   `json:"latest,omitempty"`
}

// Issue is one schema violation.
type Issue struct {
	Path    string // instance location, e.g. "/versions/2"
	Message string
}

// ValidationError lists every schema violation in a manifest.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path == "" {
			parts = append(parts, is.Message)
			continue
		}
		parts = append(parts, is.Path+": "+is.Message)
	}
	return "invalid " + FileName + ": " + strings.Join(parts, "; ")
}

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("versions.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("versions.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// Validate checks raw manifest bytes against the embedded schema. Schema
// violations come back as *ValidationError.
func Validate(data []byte) error {
	schema, err := getSchema()
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", FileName, err)
	}

	err = schema.Validate(inst)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("validating %s: %w", FileName, err)
	}

	var issues []Issue
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		issues = []Issue{{Message: ve.Error()}}
	}
	return &ValidationError{Issues: issues}
}

// collectIssues walks the error tree and keeps the leaves.
func collectIssues(ve *jsonschema.ValidationError, issues *[]Issue) {
	if len(ve.Causes) > 0 {
		for _, c := range ve.Causes {
			collectIssues(c, issues)
		}
		return
	}

	path := ""
	if len(ve.InstanceLocation) > 0 {
		path = "/" + strings.Join(ve.InstanceLocation, "/")
	}
	msg := ve.Error()
	if ve.ErrorKind != nil {
		msg = ve.ErrorKind.LocalizedString(printer)
	}
	*issues = append(*issues, Issue{Path: path, Message: msg})
}

// Parse validates and decodes a manifest.
func Parse(data []byte) (*Versions, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	var v Versions
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", FileName, err)
	}
	return &v, nil
}

// Contains reports whether version is published.
func (v *Versions) Contains(version string) bool {
	for _, s := range v.Versions {
		if s == version {
			return true
		}
	}
	return false
}

// ResolveLatest returns the manifest's latest field, or the highest semver
// in Versions when the field is empty.
func (v *Versions) ResolveLatest() (string, error) {
	if v.Latest != "" {
		return v.Latest, nil
	}
	sorted := v.Sorted()
	if len(sorted) == 0 {
		return "", fmt.Errorf("%s lists no versions", FileName)
	}
	if _, err := semver.NewVersion(sorted[0]); err != nil {
		return "", fmt.Errorf("%s has no latest field and no semantic versions", FileName)
	}
	return sorted[0], nil
}

// Sorted returns the versions newest first. Semantic versions come first in
// descending order; anything else follows in manifest order.
func (v *Versions) Sorted() []string {
	var (
		parsed []*semver.Version
		raw    = make(map[*semver.Version]string)
		others []string
	)
	for _, s := range v.Versions {
		sv, err := semver.NewVersion(s)
		if err != nil {
			others = append(others, s)
			continue
		}
		parsed = append(parsed, sv)
		raw[sv] = s
	}

	sort.Stable(sort.Reverse(semver.Collection(parsed)))

	out := make([]string, 0, len(v.Versions))
	for _, sv := range parsed {
		out = append(out, raw[sv])
	}
	return append(out, others...)
}
