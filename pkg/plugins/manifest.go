package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest filename looked for in each plugin
// directory.
const ManifestFile = "plugin.yaml"

var semverRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// Manifest describes a plugin on disk.
type Manifest struct {
	Name        string `yaml:"name"`        // Unique name (e.g. "sonarr")
	Version     string `yaml:"version"`     // Semver
	Description string `yaml:"description"` // Short description
	TabLabel    string `yaml:"tab_label"`   // Tab text
	Icon        string `yaml:"icon"`        // Optional tab glyph
	Enabled     *bool  `yaml:"enabled"`     // Defaults to true when omitted
	Impl        string `yaml:"impl"`        // Factory name; defaults to Name
}

// LoadManifest loads and parses a plugin manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	return &manifest, nil
}

// LoadManifestFromDir loads a plugin manifest from a directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFile))
}

// ValidationError describes one invalid manifest field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateManifest performs structural validation on a plugin manifest.
func ValidateManifest(manifest *Manifest) []ValidationError {
	var errs []ValidationError

	if manifest.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "plugin name is required",
		})
	}

	if manifest.Version == "" {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: "version is required",
		})
	} else if !semverRegex.MatchString(manifest.Version) {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("invalid semver format: %s", manifest.Version),
		})
	}

	if manifest.TabLabel == "" {
		errs = append(errs, ValidationError{
			Field:   "tab_label",
			Message: "tab label is required",
		})
	}

	return errs
}

// Descriptor converts a valid manifest into a descriptor.
func (m *Manifest) Descriptor(source string) Descriptor {
	enabled := true
	if m.Enabled != nil {
		enabled = *m.Enabled
	}
	impl := m.Impl
	if impl == "" {
		impl = m.Name
	}
	return Descriptor{
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		TabLabel:    m.TabLabel,
		Icon:        m.Icon,
		Enabled:     enabled,
		Impl:        impl,
		Source:      source,
	}
}
