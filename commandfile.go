package ctag

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type CommandFormat string

const (
	FormatJSON CommandFormat = "json"
	FormatYAML CommandFormat = "yaml"
	FormatTOML CommandFormat = "toml"
	FormatCSV  CommandFormat = "csv"
)

// CommandFile is an ordered batch of commands loaded from disk or stdin.
type CommandFile struct {
	Description string
	Commands    []Command
}

// FormatFromPath picks a command format from the file extension.
func FormatFromPath(path string) (CommandFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported command file extension %q (use .json, .yaml, .toml or .csv)", filepath.Ext(path))
	}
}

func LoadCommandFile(path string) (*CommandFile, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	return LoadCommandFileAs(path, format)
}

func LoadCommandFileAs(path string, format CommandFormat) (*CommandFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open command file: %w", err)
	}
	defer f.Close()

	file, err := ParseCommands(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// ParseCommands reads a command document in the given format. Only structure
// is checked here; an empty document or an empty command list is an error.
func ParseCommands(r io.Reader, format CommandFormat) (*CommandFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read commands: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("no command data provided")
	}

	var (
		description string
		raws        []rawCommand
	)
	switch format {
	case FormatJSON:
		description, raws, err = parseJSONCommands(data)
	case FormatYAML:
		description, raws, err = parseYAMLCommands(data)
	case FormatTOML:
		description, raws, err = parseTOMLCommands(data)
	case FormatCSV:
		raws, err = parseCSVCommands(data)
	default:
		return nil, fmt.Errorf("unsupported command format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, errors.New("no commands found")
	}

	file := &CommandFile{Description: description, Commands: make([]Command, 0, len(raws))}
	for i, raw := range raws {
		cmd, err := raw.build()
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i+1, err)
		}
		file.Commands = append(file.Commands, cmd)
	}
	return file, nil
}

// rawCommand is the format independent shape of one command entry. Replace
// operands land in pairs, everything else in tags.
type rawCommand struct {
	action      string
	query       string
	exclude     string
	interactive bool
	regex       bool
	tags        []string
	pairs       []TagPair
}

func (r rawCommand) build() (Command, error) {
	cmd := Command{
		Query:        strings.TrimSpace(r.query),
		ExcludeQuery: strings.TrimSpace(r.exclude),
		Interactive:  r.interactive,
	}
	if cmd.Query == "" {
		return Command{}, &ValidationError{Field: "cql_expression", Message: "is required"}
	}

	switch OperationKind(strings.ToLower(strings.TrimSpace(r.action))) {
	case OpAdd:
		if len(r.pairs) > 0 {
			return Command{}, &ValidationError{Field: "tags", Message: "add expects a list of tags"}
		}
		cmd.Operation = AddTags{Tags: r.tags}
	case OpRemove:
		if len(r.pairs) > 0 {
			return Command{}, &ValidationError{Field: "tags", Message: "remove expects a list of tags"}
		}
		cmd.Operation = RemoveTags{Tags: r.tags, Pattern: r.regex}
	case OpReplace:
		pairs := r.pairs
		for _, item := range r.tags {
			pair, err := ParseTagPair(item)
			if err != nil {
				return Command{}, err
			}
			pairs = append(pairs, pair)
		}
		cmd.Operation = ReplaceTags{Pairs: pairs, Pattern: r.regex}
	case "":
		return Command{}, &ValidationError{Field: "action", Message: "is required"}
	default:
		return Command{}, &ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q (use add, remove or replace)", r.action)}
	}

	if err := ValidateCommand(cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// ParseTagPair splits "old=new" on the first '='.
func ParseTagPair(s string) (TagPair, error) {
	oldTag, newTag, ok := strings.Cut(s, "=")
	if !ok {
		return TagPair{}, &ValidationError{Field: "tags", Message: fmt.Sprintf("invalid pair %q, expected old=new", s)}
	}
	return TagPair{Old: strings.TrimSpace(oldTag), New: strings.TrimSpace(newTag)}, nil
}

type jsonCommand struct {
	Action      string          `json:"action"`
	Query       string          `json:"cql_expression"`
	Exclude     string          `json:"cql_exclude"`
	Interactive bool            `json:"interactive"`
	Regex       bool            `json:"regex"`
	Tags        json.RawMessage `json:"tags"`
}

func parseJSONCommands(data []byte) (string, []rawCommand, error) {
	var doc struct {
		Description string        `json:"description"`
		Commands    []jsonCommand `json:"commands"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("invalid JSON command document: %w", err)
	}

	raws := make([]rawCommand, 0, len(doc.Commands))
	for i, c := range doc.Commands {
		raw := rawCommand{
			action:      c.Action,
			query:       c.Query,
			exclude:     c.Exclude,
			interactive: c.Interactive,
			regex:       c.Regex,
		}
		if err := decodeJSONTags(c.Tags, &raw); err != nil {
			return "", nil, fmt.Errorf("command %d: %w", i+1, err)
		}
		raws = append(raws, raw)
	}
	return doc.Description, raws, nil
}

// decodeJSONTags accepts a list of strings, a list of {old,new} objects or an
// object of old to new. Object key order is kept by walking the tokens.
func decodeJSONTags(data json.RawMessage, raw *rawCommand) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("invalid tags: %w", err)
		}
		for _, item := range items {
			var tag string
			if err := json.Unmarshal(item, &tag); err == nil {
				raw.tags = append(raw.tags, tag)
				continue
			}
			var pair TagPair
			if err := json.Unmarshal(item, &pair); err != nil {
				return fmt.Errorf("invalid tag entry %s", string(item))
			}
			raw.pairs = append(raw.pairs, pair)
		}
		return nil
	case '{':
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("invalid tags: %w", err)
		}
		for dec.More() {
			key, err := dec.Token()
			if err != nil {
				return fmt.Errorf("invalid tags: %w", err)
			}
			var value string
			if err := dec.Decode(&value); err != nil {
				return fmt.Errorf("invalid replacement for %v: %w", key, err)
			}
			raw.pairs = append(raw.pairs, TagPair{Old: key.(string), New: value})
		}
		return nil
	default:
		return fmt.Errorf("tags must be a list or an object, got %s", string(trimmed))
	}
}

type yamlCommand struct {
	Action      string    `yaml:"action"`
	Query       string    `yaml:"cql_expression"`
	Exclude     string    `yaml:"cql_exclude"`
	Interactive bool      `yaml:"interactive"`
	Regex       bool      `yaml:"regex"`
	Tags        yaml.Node `yaml:"tags"`
}

func parseYAMLCommands(data []byte) (string, []rawCommand, error) {
	var doc struct {
		Description string        `yaml:"description"`
		Commands    []yamlCommand `yaml:"commands"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("invalid YAML command document: %w", err)
	}

	raws := make([]rawCommand, 0, len(doc.Commands))
	for i, c := range doc.Commands {
		raw := rawCommand{
			action:      c.Action,
			query:       c.Query,
			exclude:     c.Exclude,
			interactive: c.Interactive,
			regex:       c.Regex,
		}
		if err := decodeYAMLTags(&c.Tags, &raw); err != nil {
			return "", nil, fmt.Errorf("command %d: %w", i+1, err)
		}
		raws = append(raws, raw)
	}
	return doc.Description, raws, nil
}

func decodeYAMLTags(node *yaml.Node, raw *rawCommand) error {
	switch node.Kind {
	case 0:
		return nil
	case yaml.SequenceNode:
		for _, item := range node.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				raw.tags = append(raw.tags, item.Value)
			case yaml.MappingNode:
				var pair TagPair
				if err := item.Decode(&pair); err != nil {
					return fmt.Errorf("line %d: invalid pair: %w", item.Line, err)
				}
				raw.pairs = append(raw.pairs, pair)
			default:
				return fmt.Errorf("line %d: invalid tag entry", item.Line)
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: replacement for %q must be a string", value.Line, key.Value)
			}
			raw.pairs = append(raw.pairs, TagPair{Old: key.Value, New: value.Value})
		}
		return nil
	default:
		return fmt.Errorf("line %d: tags must be a list or a mapping", node.Line)
	}
}

type tomlCommand struct {
	Action      string `toml:"action"`
	Query       string `toml:"cql_expression"`
	Exclude     string `toml:"cql_exclude"`
	Interactive bool   `toml:"interactive"`
	Regex       bool   `toml:"regex"`
	Tags        any    `toml:"tags"`
}

func parseTOMLCommands(data []byte) (string, []rawCommand, error) {
	var doc struct {
		Description string        `toml:"description"`
		Commands    []tomlCommand `toml:"commands"`
	}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return "", nil, fmt.Errorf("invalid TOML command document: %w", err)
	}

	raws := make([]rawCommand, 0, len(doc.Commands))
	for i, c := range doc.Commands {
		raw := rawCommand{
			action:      c.Action,
			query:       c.Query,
			exclude:     c.Exclude,
			interactive: c.Interactive,
			regex:       c.Regex,
		}
		if err := decodeTOMLTags(c.Tags, &raw); err != nil {
			return "", nil, fmt.Errorf("command %d: %w", i+1, err)
		}
		raws = append(raws, raw)
	}
	return doc.Description, raws, nil
}

// decodeTOMLTags accepts arrays only. TOML tables do not keep key order, so
// replace pairs must be written as "old=new" strings or {old, new} tables.
func decodeTOMLTags(value any, raw *rawCommand) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range v {
			switch entry := item.(type) {
			case string:
				raw.tags = append(raw.tags, entry)
			case map[string]any:
				raw.pairs = append(raw.pairs, tomlPair(entry))
			default:
				return fmt.Errorf("invalid tag entry %v", item)
			}
		}
		return nil
	case []map[string]any:
		for _, entry := range v {
			raw.pairs = append(raw.pairs, tomlPair(entry))
		}
		return nil
	case map[string]any:
		return errors.New(`tags tables lose ordering, write replace pairs as ["old=new", ...]`)
	default:
		return fmt.Errorf("tags must be an array, got %T", value)
	}
}

func tomlPair(entry map[string]any) TagPair {
	oldTag, _ := entry["old"].(string)
	newTag, _ := entry["new"].(string)
	return TagPair{Old: oldTag, New: newTag}
}

var csvRequiredColumns = []string{"action", "cql_expression", "tags"}

func parseCSVCommands(data []byte) ([]rawCommand, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range csvRequiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("CSV file is missing required column: %s", name)
		}
	}

	field := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var raws []rawCommand
	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		raw := rawCommand{
			action:      field(record, "action"),
			query:       field(record, "cql_expression"),
			exclude:     field(record, "cql_exclude"),
			interactive: parseCSVBool(field(record, "interactive")),
			regex:       parseCSVBool(field(record, "regex")),
		}
		for _, tag := range strings.Split(field(record, "tags"), ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				raw.tags = append(raw.tags, tag)
			}
		}
		if _, err := raw.build(); err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		raws = append(raws, raw)
	}
	return raws, nil
}

func parseCSVBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}
