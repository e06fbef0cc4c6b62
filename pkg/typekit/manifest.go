package typekit

import (
    "bytes"
    _ "embed"
    "encoding/json"
    "fmt"
    "os"
    "strings"
    "sync"

    "github.com/santhosh-tekuri/jsonschema/v6"
    "go.yaml.in/yaml/v3"
    "golang.org/x/text/language"
    "golang.org/x/text/message"
)

//go:embed schema/typekit.schema.json
var schemaBytes []byte

var (
    compiledSchema *jsonschema.Schema
    compileOnce    sync.Once
    compileErr     error
    printer        = message.NewPrinter(language.English)
)

// Manifest is a YAML typekit description.
//
//  name: base
//  version: 1.2.0
//  requires: {std: ">= 1.0"}
//  types:
//    - name: /base/Time/usec
//      base: /int64_t
type Manifest struct {
    Name     string            `yaml:"name"`
    Version  string            `yaml:"version"`
    Doc      string            `yaml:"doc"`
    Requires map[string]string `yaml:"requires"`
    Types    []TypeDecl        `yaml:"types"`
}

// TypeDecl declares a type derived from an already known base.
type TypeDecl struct {
    Name    string   `yaml:"name"`
    Base    string   `yaml:"base"`
    Doc     string   `yaml:"doc"`
    Aliases []string `yaml:"aliases"`
}

// Issue is one schema violation.
type Issue struct {
    Path    string
    Keyword string
    Message string
}

// ManifestError lists the schema violations of a manifest.
type ManifestError struct{ Issues []Issue }

func (e *ManifestError) Error() string {
    parts := make([]string, 0, len(e.Issues))
    for _, is := range e.Issues {
        p := is.Path
        if p == "" { p = "/" }
        parts = append(parts, fmt.Sprintf("%s: %s", p, is.Message))
    }
    return "typekit: invalid manifest: " + strings.Join(parts, "; ")
}

func getSchema() (*jsonschema.Schema, error) {
    compileOnce.Do(func() {
        doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
        if err != nil {
            compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
            return
        }
        c := jsonschema.NewCompiler()
        if err := c.AddResource("typekit.schema.json", doc); err != nil {
            compileErr = fmt.Errorf("adding schema resource: %w", err)
            return
        }
        compiledSchema, compileErr = c.Compile("typekit.schema.json")
    })
    return compiledSchema, compileErr
}

// ValidateManifest checks YAML against the manifest schema. Schema
// violations are returned as *ManifestError.
func ValidateManifest(data []byte) error {
    schema, err := getSchema()
    if err != nil { return fmt.Errorf("loading schema: %w", err) }
    var raw any
    if err := yaml.Unmarshal(data, &raw); err != nil { return fmt.Errorf("parsing YAML: %w", err) }
    jsonData, err := json.Marshal(raw)
    if err != nil { return fmt.Errorf("converting to JSON: %w", err) }
    inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
    if err != nil { return fmt.Errorf("preparing JSON for validation: %w", err) }
    err = schema.Validate(inst)
    if err == nil { return nil }
    ve, ok := err.(*jsonschema.ValidationError)
    if !ok { return fmt.Errorf("unexpected validation error type: %w", err) }
    var issues []Issue
    collectIssues(ve, &issues)
    if len(issues) == 0 { issues = []Issue{{Message: ve.Error()}} }
    return &ManifestError{Issues: issues}
}

func collectIssues(ve *jsonschema.ValidationError, out *[]Issue) {
    if len(ve.Causes) > 0 {
        for _, c := range ve.Causes { collectIssues(c, out) }
        return
    }
    path := ""
    if len(ve.InstanceLocation) > 0 { path = "/" + strings.Join(ve.InstanceLocation, "/") }
    is := Issue{Path: path}
    if ve.ErrorKind != nil {
        if kw := ve.ErrorKind.KeywordPath(); len(kw) > 0 { is.Keyword = kw[len(kw)-1] }
        is.Message = ve.ErrorKind.LocalizedString(printer)
    }
    if is.Keyword == "$ref" || is.Keyword == "allOf" { return }
    *out = append(*out, is)
}

// ParseManifest validates and decodes a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
    if err := ValidateManifest(data); err != nil { return nil, err }
    var m Manifest
    if err := yaml.Unmarshal(data, &m); err != nil { return nil, fmt.Errorf("parsing manifest: %w", err) }
    return &m, nil
}

// LoadManifest validates a YAML manifest and registers its types. Bases
// may name types of already loaded typekits or earlier entries of the
// same manifest.
func (r *Registry) LoadManifest(data []byte) error {
    m, err := ParseManifest(data)
    if err != nil { return err }
    if err := r.checkRequires(m.Name, m.Requires); err != nil { return err }
    if r.HasTypekit(m.Name) { return nil }
    local := make(map[string]*TypeInfo, len(m.Types))
    types := make([]*TypeInfo, 0, len(m.Types))
    for _, d := range m.Types {
        base, ok := local[d.Base]
        if !ok {
            base, err = r.Lookup(d.Base)
            if err != nil { return fmt.Errorf("typekit %s: %s: %w", m.Name, d.Name, err) }
        }
        t := base.derive(d.Name, m.Name, d.Doc, d.Aliases)
        local[d.Name] = t
        for _, a := range d.Aliases { local[a] = t }
        types = append(types, t)
    }
    return r.loadKit(m.Name, m.Version, m.Requires, types)
}

// LoadFile reads and loads a manifest file.
func (r *Registry) LoadFile(path string) error {
    data, err := os.ReadFile(path)
    if err != nil { return fmt.Errorf("reading %s: %w", path, err) }
    if err := r.LoadManifest(data); err != nil { return fmt.Errorf("%s: %w", path, err) }
    return nil
}
