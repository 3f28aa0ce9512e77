// Package analyzers provides dependency manifest analysis
package analyzers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ManifestAnalyzer analyzes pinned dependency manifests
type ManifestAnalyzer struct {
	projectRoot string
}

// NewManifestAnalyzer creates a new manifest analyzer
func NewManifestAnalyzer(projectRoot string) *ManifestAnalyzer {
	return &ManifestAnalyzer{
		projectRoot: projectRoot,
	}
}

// Requirement represents a single manifest entry
type Requirement struct {
	Name       string
	Constraint string
	Version    string
	Extras     []string
	Editable   bool
	Marker     string
}

// ManifestAnalysis represents the parsed contents of a manifest
type ManifestAnalysis struct {
	Path         string
	Requirements []Requirement
	Includes     []string
}

var (
	requirementRegex = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(?:\[([^\]]*)\])?\s*(===|==|>=|<=|~=|!=|>|<)?\s*([^;\s]+)?\s*(?:;\s*(.+))?$`)
	eggFragmentRegex = regexp.MustCompile(`[#&]egg=([A-Za-z0-9._-]+)`)
)

// AnalyzeManifest parses a requirements-style manifest
func (a *ManifestAnalyzer) AnalyzeManifest(path string) (*ManifestAnalysis, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.projectRoot, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	analysis := &ManifestAnalysis{
		Path: path,
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip blanks and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Strip trailing comments
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		switch {
		case strings.HasPrefix(line, "-e ") || strings.HasPrefix(line, "--editable "):
			ref := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "-e"), "--editable"))
			analysis.Requirements = append(analysis.Requirements, Requirement{
				Name:     editableName(ref),
				Editable: true,
			})
		case strings.HasPrefix(line, "-r ") || strings.HasPrefix(line, "--requirement "):
			ref := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "-r"), "--requirement"))
			analysis.Includes = append(analysis.Includes, ref)
		case strings.HasPrefix(line, "-"):
			// Installer options are not requirements
			continue
		default:
			if req, ok := parseRequirementLine(line); ok {
				analysis.Requirements = append(analysis.Requirements, req)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return analysis, nil
}

// AnalyzeNodeManifest parses a package.json manifest
func (a *ManifestAnalyzer) AnalyzeNodeManifest(path string) (*ManifestAnalysis, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.projectRoot, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	var manifest struct {
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	analysis := &ManifestAnalysis{
		Path: path,
	}

	names := make([]string, 0, len(manifest.Dependencies))
	for name := range manifest.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		version := manifest.Dependencies[name]
		constraint := "=="
		if strings.HasPrefix(version, "^") || strings.HasPrefix(version, "~") {
			constraint = string(version[0])
			version = version[1:]
		}
		analysis.Requirements = append(analysis.Requirements, Requirement{
			Name:       name,
			Constraint: constraint,
			Version:    version,
		})
	}

	return analysis, nil
}

// PinnedNames returns the names of exactly pinned requirements
func (m *ManifestAnalysis) PinnedNames() []string {
	var names []string
	for _, req := range m.Requirements {
		if req.Constraint == "==" || req.Constraint == "===" {
			names = append(names, req.Name)
		}
	}
	return names
}

// Names returns all requirement names in manifest order
func (m *ManifestAnalysis) Names() []string {
	names := make([]string, 0, len(m.Requirements))
	for _, req := range m.Requirements {
		names = append(names, req.Name)
	}
	return names
}

// Contains reports whether the manifest mentions a package, comparing
// normalized names.
func (m *ManifestAnalysis) Contains(name string) bool {
	normalized := NormalizeName(name)
	for _, req := range m.Requirements {
		if NormalizeName(req.Name) == normalized {
			return true
		}
	}
	return false
}

// NormalizeName lowers a package name and folds underscores into hyphens,
// matching how package indexes compare names.
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

func parseRequirementLine(line string) (Requirement, bool) {
	matches := requirementRegex.FindStringSubmatch(line)
	if matches == nil {
		return Requirement{}, false
	}

	req := Requirement{
		Name:       matches[1],
		Constraint: matches[3],
		Version:    matches[4],
		Marker:     strings.TrimSpace(matches[5]),
	}

	if matches[2] != "" {
		for _, extra := range strings.Split(matches[2], ",") {
			if extra = strings.TrimSpace(extra); extra != "" {
				req.Extras = append(req.Extras, extra)
			}
		}
	}

	return req, true
}

// editableName extracts a package name from an editable install reference,
// preferring the egg fragment over the path base.
func editableName(ref string) string {
	if matches := eggFragmentRegex.FindStringSubmatch(ref); len(matches) > 1 {
		return matches[1]
	}

	base := filepath.Base(strings.TrimRight(ref, "/"))
	if idx := strings.Index(base, "#"); idx >= 0 {
		base = base[:idx]
	}
	return base
}
