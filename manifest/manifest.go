// Package manifest builds packages from declarative YAML or JSON definitions.
//
// A definition names the control directory, the data sources and their
// mappers, the signing key, the changes file and the Synology variant. Every
// string value may use Go templates ("{{.version}}") over the variables;
// control files and scripts use the [[name]] syntax over the same variables.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Package is the definition of a package build.
type Package struct {
	// Variables are available to templates. They override the defines given
	// to Load and may refer to them.
	Variables map[string]string `json:"variables" yaml:"variables"`

	// Control is the directory holding the control file and maintainer scripts.
	Control string `json:"control" yaml:"control"`
	// Deb is the path of the .deb file to write.
	Deb string `json:"deb" yaml:"deb"`
	// Compression of the data archive: gzip (default), xz, bzip2, zstd or none.
	Compression string `json:"compression" yaml:"compression"`
	// LongFileMode is gnu (default), posix, error or truncate.
	LongFileMode string `json:"long_file_mode" yaml:"long_file_mode"`
	OpenToken    string `json:"open_token" yaml:"open_token"`
	CloseToken   string `json:"close_token" yaml:"close_token"`
	// Timestamp fixes every archive time: RFC3339 or epoch seconds.
	// SOURCE_DATE_EPOCH is used when empty.
	Timestamp string `json:"timestamp" yaml:"timestamp"`

	// Defaults fill control fields the control file leaves unset.
	Defaults Defaults `json:"defaults" yaml:"defaults"`

	Data []Data `json:"data" yaml:"data"`

	Signing *Signing `json:"signing" yaml:"signing"`
	Changes *Changes `json:"changes" yaml:"changes"`
	Spk     *Spk     `json:"spk" yaml:"spk"`

	filePath string
	engine   *templateEngine
}

// Defaults are the control fields used when the control file has none.
type Defaults struct {
	Package     string `json:"package" yaml:"package"`
	Section     string `json:"section" yaml:"section"`
	Description string `json:"description" yaml:"description"`
	Depends     string `json:"depends" yaml:"depends"`
	Homepage    string `json:"homepage" yaml:"homepage"`
}

// Signing selects the key that signs the package and the changes file.
type Signing struct {
	// Keyring is an armored or binary OpenPGP secret key ring.
	Keyring string `json:"keyring" yaml:"keyring"`
	// Key is the key id; the first signing key is used when empty.
	Key string `json:"key" yaml:"key"`
	// PassphraseEnv names the environment variable holding the passphrase.
	PassphraseEnv string `json:"passphrase_env" yaml:"passphrase_env"`
	// Method is gpg (default) or dpkg-sig.
	Method string `json:"method" yaml:"method"`
	Role   string `json:"role" yaml:"role"`
	Digest string `json:"digest" yaml:"digest"`
	// Package disables the package signature when false.
	Package *bool `json:"package" yaml:"package"`
}

// Changes describes the .changes file written next to the package.
type Changes struct {
	// In is a changes text file; the control file provides a single change
	// set when empty.
	In string `json:"in" yaml:"in"`
	// Out defaults to the package path with a .changes extension.
	Out string `json:"out" yaml:"out"`
	// Save rewrites the changes text file with the resolved release
	// attributes.
	Save string `json:"save" yaml:"save"`
	// Sign clearsigns the .changes file with the signing key.
	Sign bool `json:"sign" yaml:"sign"`
}

// Spk describes a Synology package built from the same data.
type Spk struct {
	Output      string `json:"output" yaml:"output"`
	Info        string `json:"info" yaml:"info"`
	Scripts     string `json:"scripts" yaml:"scripts"`
	Package     string `json:"package" yaml:"package"`
	Description string `json:"description" yaml:"description"`
}

// Load reads the definition at path. defines are the outermost variables,
// usually given on the command line.
func Load(path string, defines map[string]string) (*Package, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package definition: %w", err)
	}
	var p Package
	if err := unmarshal(path, content, &p); err != nil {
		return nil, fmt.Errorf("failed to parse package definition %s: %w", path, err)
	}
	p.filePath = path
	p.engine, err = newTemplateEngine(defines).sub(p.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to process variables of %s: %w", path, err)
	}
	return &p, nil
}

// resolve makes path relative to the definition file.
func (p *Package) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(p.filePath), path)
}

// unmarshal parses JSON or YAML based on file extension.
func unmarshal(path string, data []byte, v any) error {
	ext := strings.ToLower(filepath.Ext(path))
	r := bytes.NewReader(data)
	if ext == ".yaml" || ext == ".yml" {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		return dec.Decode(v)
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
