package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Document is one configuration file, or the merge of several, before it is
// decoded into a Config.
type Document map[string]any

// Compose reads the main file at path and every fragment of its config.d
// directory in lexical filename order, merging them into one document. A
// missing main file is not an error. The returned list names the files that
// were read.
//
// Merging: tables are merged key by key with later files winning; the
// multipurpose and keymap lists and modmap.conditionals are appended;
// modmap.default is merged key by key.
func Compose(path string) (Document, []string, error) {
	doc := Document{}
	var files []string

	if _, err := os.Stat(path); err == nil {
		frag, err := ReadDocument(path)
		if err != nil {
			return nil, nil, err
		}
		doc.Merge(frag)
		files = append(files, path)
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("stat config: %w", err)
	}

	fragments, err := fragmentFiles(FragmentDir(path))
	if err != nil {
		return nil, nil, err
	}
	for _, f := range fragments {
		frag, err := ReadDocument(f)
		if err != nil {
			return nil, nil, err
		}
		doc.Merge(frag)
		files = append(files, f)
	}

	return doc, files, nil
}

func fragmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !isConfigFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// ReadDocument reads and parses a config file based on its extension.
func ReadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	doc, err := ParseDocument(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument parses data in the format named by ext (".toml", ".json",
// ".yaml" or ".yml"). Unknown extensions are parsed as TOML.
func ParseDocument(data []byte, ext string) (Document, error) {
	var raw map[string]any
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	doc, _ := normalize(raw).(map[string]any)
	if doc == nil {
		doc = map[string]any{}
	}
	return Document(doc), nil
}

// normalize turns the container types of the three decoders into
// map[string]any and []any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = normalize(v)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[fmt.Sprint(k)] = normalize(v)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = normalize(v)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = normalize(v)
		}
		return out
	default:
		return v
	}
}

var appendedSections = map[string]bool{
	"multipurpose": true,
	"keymap":       true,
}

// Merge folds src into d.
func (d Document) Merge(src Document) {
	for k, v := range src {
		switch {
		case k == "modmap":
			dst, _ := d[k].(map[string]any)
			if dst == nil {
				dst = map[string]any{}
			}
			if m, ok := v.(map[string]any); ok {
				mergeModmap(dst, m)
				d[k] = dst
			} else {
				d[k] = v
			}
		case appendedSections[k]:
			d[k] = appendList(d[k], v)
		default:
			d[k] = mergeTable(d[k], v)
		}
	}
}

func mergeModmap(dst, src map[string]any) {
	for k, v := range src {
		switch k {
		case "conditionals":
			dst[k] = appendList(dst[k], v)
		default:
			dst[k] = mergeTable(dst[k], v)
		}
	}
}

func mergeTable(dst, src any) any {
	d, ok1 := dst.(map[string]any)
	s, ok2 := src.(map[string]any)
	if !ok1 || !ok2 {
		return src
	}
	out := make(map[string]any, len(d)+len(s))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range s {
		out[k] = v
	}
	return out
}

func appendList(dst, src any) any {
	d, ok1 := dst.([]any)
	s, ok2 := src.([]any)
	if !ok2 {
		return src
	}
	if !ok1 {
		return s
	}
	out := make([]any, 0, len(d)+len(s))
	out = append(out, d...)
	return append(out, s...)
}

// JSON renders the document as JSON, the form the schema and the decoder
// work on.
func (d Document) JSON() ([]byte, error) {
	return json.Marshal(map[string]any(d))
}

// Decode checks the document against the schema and decodes it on top of
// the defaults.
func (d Document) Decode() (*Config, error) {
	data, err := d.JSON()
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}
