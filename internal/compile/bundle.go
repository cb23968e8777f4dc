package compile

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/chinmayajena/sundaygraph/internal/odl"
	"github.com/chinmayajena/sundaygraph/internal/oerrors"
)

// Bundle file names.
const (
	FileSemanticModel = "semantic_model.yaml"
	FileVerifySQL     = "verify.sql"
	FileDeploySQL     = "deploy.sql"
	FileRollbackSQL   = "rollback.sql"
	FileRollbackYAML  = "rollback_semantic_model.yaml"
	FileMetadata      = "metadata.json"
)

// Target identifies where a bundle deploys.
type Target struct {
	Database string `json:"database"`
	Schema   string `json:"schema"`
	ViewName string `json:"view_name"`
}

// FQN returns database.schema.view_name.
func (t Target) FQN() string {
	return fmt.Sprintf("%s.%s.%s", t.Database, t.Schema, t.ViewName)
}

// Environment is one promotion target. Empty fields inherit from the
// bundle's root target.
type Environment struct {
	Name     string
	Database string
	Schema   string
	ViewName string
}

// Options configures a compilation.
type Options struct {
	Ontology      string
	VersionNumber int
	ContentHash   string
	// ViewName overrides the default view name derived from the ontology.
	ViewName string
	// CreatedAt stamps metadata.json; zero means time.Now.
	CreatedAt time.Time
	// Environments, when non-empty, adds per-environment script
	// subdirectories alongside the root scripts.
	Environments []Environment
}

// metadata is the persisted provenance record inside the bundle.
type metadata struct {
	SourceOntology string `json:"source_ontology"`
	VersionNumber  int    `json:"version_number"`
	ContentHash    string `json:"content_hash"`
	CreatedAt      string `json:"created_at"`
}

// Bundle is a compiled artifact set, addressable by its content hash.
type Bundle struct {
	Target Target
	Files  map[string][]byte

	yaml []byte
}

// YAML returns the compiled semantic-model payload.
func (b *Bundle) YAML() []byte { return b.yaml }

// Hash is the sha256 over every file except metadata.json (which carries a
// wall-clock stamp), walked in sorted name order. Identical compiler inputs
// produce identical hashes.
func (b *Bundle) Hash() string {
	names := make([]string, 0, len(b.Files))
	for name := range b.Files {
		if name == FileMetadata {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(b.Files[name])
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Compile builds the artifact bundle for a normalized IR. The IR is
// expected to have passed evaluation; structurally unmappable input fails
// with COMPILE_FAILED.
func Compile(ir *odl.IR, opts Options) (*Bundle, error) {
	model, err := BuildModel(ir)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeCompileFailed, err, "cannot compile ontology %q", opts.Ontology)
	}

	yamlBytes, err := model.EmitYAML(opts.Ontology, opts.VersionNumber, opts.ContentHash)
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeCompileFailed, err, "cannot emit semantic model YAML")
	}

	target := Target{ViewName: opts.ViewName}
	if ir.Target != nil {
		target.Database = ir.Target.Database
		target.Schema = ir.Target.Schema
	}
	if target.ViewName == "" {
		target.ViewName = odl.SnakeCase(opts.Ontology) + "_view"
	}
	if target.Database == "" || target.Schema == "" {
		return nil, oerrors.New(oerrors.CodeCompileFailed,
			"ontology %q has no target database/schema", opts.Ontology)
	}

	createdAt := opts.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	meta, err := json.MarshalIndent(metadata{
		SourceOntology: opts.Ontology,
		VersionNumber:  opts.VersionNumber,
		ContentHash:    opts.ContentHash,
		CreatedAt:      createdAt.UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeCompileFailed, err, "cannot emit metadata")
	}

	b := &Bundle{
		Target: target,
		Files:  make(map[string][]byte),
		yaml:   yamlBytes,
	}
	b.Files[FileSemanticModel] = yamlBytes
	b.Files[FileVerifySQL] = []byte(VerifySQL(yamlBytes, target.Database, target.Schema))
	b.Files[FileDeploySQL] = []byte(DeploySQL(yamlBytes, target.Database, target.Schema, target.ViewName))
	b.Files[FileRollbackSQL] = []byte(RollbackSQL(target.Database, target.Schema, target.ViewName, nil))
	b.Files[FileMetadata] = append(meta, '\n')

	for _, env := range opts.Environments {
		envTarget := target
		if env.Database != "" {
			envTarget.Database = env.Database
		}
		if env.Schema != "" {
			envTarget.Schema = env.Schema
		}
		if env.ViewName != "" {
			envTarget.ViewName = env.ViewName
		}
		b.Files[env.Name+"/"+FileVerifySQL] = []byte(VerifySQL(yamlBytes, envTarget.Database, envTarget.Schema))
		b.Files[env.Name+"/"+FileDeploySQL] = []byte(DeploySQL(yamlBytes, envTarget.Database, envTarget.Schema, envTarget.ViewName))
		b.Files[env.Name+"/"+FileRollbackSQL] = []byte(RollbackSQL(envTarget.Database, envTarget.Schema, envTarget.ViewName, nil))
	}

	return b, nil
}

// AttachRollback records a pre-deploy export: the captured YAML lands in
// the bundle and rollback.sql switches from drop-only to drop-and-recreate.
func (b *Bundle) AttachRollback(yaml []byte) {
	b.Files[FileRollbackYAML] = yaml
	b.Files[FileRollbackSQL] = []byte(RollbackSQL(b.Target.Database, b.Target.Schema, b.Target.ViewName, yaml))
}

// HasRollback reports whether a pre-deploy export was captured.
func (b *Bundle) HasRollback() bool {
	_, ok := b.Files[FileRollbackYAML]
	return ok
}

// WriteDir materializes the bundle under dir, creating environment
// subdirectories as needed.
func (b *Bundle) WriteDir(dir string) error {
	names := make([]string, 0, len(b.Files))
	for name := range b.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create bundle directory: %w", err)
		}
		if err := os.WriteFile(path, b.Files[name], 0644); err != nil {
			return fmt.Errorf("failed to write bundle file %s: %w", name, err)
		}
	}
	return nil
}

// WriteZip streams the bundle as a zip archive. Entries are sorted and
// timestamps fixed, so identical bundles zip to identical bytes.
func (b *Bundle) WriteZip(w io.Writer) error {
	names := make([]string, 0, len(b.Files))
	for name := range b.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(w)
	for _, name := range names {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		hdr.SetMode(0644)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("failed to add %s to bundle zip: %w", name, err)
		}
		if _, err := fw.Write(b.Files[name]); err != nil {
			return fmt.Errorf("failed to write %s to bundle zip: %w", name, err)
		}
	}
	return zw.Close()
}
