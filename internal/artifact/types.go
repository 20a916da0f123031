// Package artifact describes the contracts a workspace builds and releases:
// their static descriptions, the catalog that owns them for the duration of a
// run, and the build outputs the toolchain leaves under the target directory.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Info is the static description of one contract artifact. PackageName may be
// empty until the artifact's first successful build reveals it.
type Info struct {
	Name        string   `json:"name" yaml:"name"`
	PackageName string   `json:"package,omitempty" yaml:"package,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Authors     []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Homepage    string   `json:"homepage,omitempty" yaml:"homepage,omitempty"`
	Repository  string   `json:"repository,omitempty" yaml:"repository,omitempty"`
	ReadmePath  string   `json:"readme,omitempty" yaml:"readme,omitempty"`
	Path        string   `json:"path,omitempty" yaml:"path,omitempty"`
}

// Clone returns a deep copy of the info.
func (i Info) Clone() Info {
	clone := i
	clone.DependsOn = cloneStrings(i.DependsOn)
	clone.Authors = cloneStrings(i.Authors)
	return clone
}

// Validate ensures the description is usable.
func (i Info) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("artifact: name is required")
	}
	seen := map[string]struct{}{}
	for _, dep := range i.DependsOn {
		if dep == "" {
			return fmt.Errorf("artifact: %s has an empty dependency", i.Name)
		}
		if _, dup := seen[dep]; dup {
			return fmt.Errorf("artifact: %s has duplicate dependency on %s", i.Name, dep)
		}
		seen[dep] = struct{}{}
	}
	return nil
}

// Registrable reports whether the artifact carries a package name and can
// therefore be published and registered.
func (i Info) Registrable() bool {
	return i.PackageName != ""
}

// Metadata is the document published to the content store for each
// registrable artifact. Field order is part of the encoding because content
// ids are computed over the encoded bytes.
type Metadata struct {
	PublishBlock int64           `json:"publish_block"`
	PublishedAt  string          `json:"published_at"`
	Description  string          `json:"description"`
	Readme       string          `json:"readme"`
	Authors      []string        `json:"authors"`
	Homepage     string          `json:"homepage"`
	Repository   string          `json:"repository"`
	ABI          json.RawMessage `json:"abi"`
}

// Bytes returns the canonical encoding of the metadata: compact JSON with no
// HTML escaping and no trailing newline.
func (m Metadata) Bytes() ([]byte, error) {
	if m.Authors == nil {
		m.Authors = []string{}
	}
	if len(m.ABI) == 0 {
		m.ABI = json.RawMessage("[]")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("artifact: encode metadata: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}
