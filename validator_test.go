package ctag_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrawn01/ctag"
)

func TestDefaultValidator_ValidateTag(t *testing.T) {
	validator := ctag.NewDefaultValidator()

	tests := []struct {
		name        string
		tag         string
		isValid     bool
		issues      []string
		suggestions []string
	}{
		{
			name:    "Simple",
			tag:     "documentation",
			isValid: true,
		},
		{
			name:    "HyphensAndUnderscores",
			tag:     "project_alpha-2024",
			isValid: true,
		},
		{
			name:        "UppercaseIsAllowed",
			tag:         "Docs",
			isValid:     true,
			suggestions: []string{"Labels are stored in lowercase, consider: docs"},
		},
		{
			name:        "RepeatedHyphens",
			tag:         "a--b",
			isValid:     true,
			suggestions: []string{"Consider: a-b"},
		},
		{
			name:    "Empty",
			tag:     "",
			isValid: false,
			issues:  []string{"Label cannot be empty"},
		},
		{
			name:        "Whitespace",
			tag:         "has space",
			isValid:     false,
			issues:      []string{"Label cannot contain whitespace"},
			suggestions: []string{"Suggested: has-space"},
		},
		{
			name:        "ForbiddenCharacters",
			tag:         "v1.2:beta",
			isValid:     false,
			issues:      []string{"Label contains invalid characters (none of !#&()*,.:;<>?@[]^ allowed)"},
			suggestions: []string{"Suggested: v1-2-beta"},
		},
		{
			name:    "WhitespaceAndForbidden",
			tag:     "My Label!",
			isValid: false,
			issues: []string{
				"Label cannot contain whitespace",
				"Label contains invalid characters (none of !#&()*,.:;<>?@[]^ allowed)",
			},
			suggestions: []string{"Suggested: my-label"},
		},
		{
			name:        "TooLong",
			tag:         strings.Repeat("a", ctag.MaxLabelLength+1),
			isValid:     false,
			issues:      []string{"Label must be at most 255 characters long"},
			suggestions: []string{"Suggested: " + strings.Repeat("a", ctag.MaxLabelLength)},
		},
		{
			name:    "MaxLength",
			tag:     strings.Repeat("a", ctag.MaxLabelLength),
			isValid: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := validator.ValidateTag(test.tag)
			assert.Equal(t, test.isValid, result.IsValid)

			issues := test.issues
			if issues == nil {
				issues = []string{}
			}
			assert.Equal(t, issues, result.Issues)

			suggestions := test.suggestions
			if suggestions == nil {
				suggestions = []string{}
			}
			assert.Equal(t, suggestions, result.Suggestions)
		})
	}
}

func TestSuggestLabel(t *testing.T) {
	tests := map[string]string{
		"My Label!":       "my-label",
		"  spaced  out  ": "spaced-out",
		"a--b":            "a-b",
		"release@v2.0":    "release-v2-0",
		"!!!":             "",
	}
	for input, want := range tests {
		assert.Equal(t, want, ctag.SuggestLabel(input), input)
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  ctag.Command
		want string
	}{
		{
			name: "Valid",
			cmd:  ctag.Command{Operation: ctag.AddTags{Tags: []string{"a"}}, Query: "space = DOCS"},
		},
		{
			name: "EmptyQuery",
			cmd:  ctag.Command{Operation: ctag.AddTags{Tags: []string{"a"}}},
			want: "cql_expression: query cannot be empty",
		},
		{
			name: "MissingOperation",
			cmd:  ctag.Command{Query: "q"},
			want: "action: missing operation",
		},
		{
			name: "NoTags",
			cmd:  ctag.Command{Operation: ctag.RemoveTags{}, Query: "q"},
			want: "tags: at least one tag is required",
		},
		{
			name: "BlankTag",
			cmd:  ctag.Command{Operation: ctag.AddTags{Tags: []string{"a", " "}}, Query: "q"},
			want: "tags: tag 2 is blank",
		},
		{
			name: "NoPairs",
			cmd:  ctag.Command{Operation: ctag.ReplaceTags{}, Query: "q"},
			want: "replace requires at least one old=new pair",
		},
		{
			name: "IncompletePair",
			cmd:  ctag.Command{Operation: ctag.ReplaceTags{Pairs: []ctag.TagPair{{Old: "a"}}}, Query: "q"},
			want: "pair 1 is incomplete",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := ctag.ValidateCommand(test.cmd)
			if test.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ctag.ErrInvalidCommand)
			assert.Contains(t, err.Error(), test.want)
		})
	}

	t.Run("InvalidLabelsOnlyWarn", func(t *testing.T) {
		validator := ctag.NewDefaultValidator()
		err := validator.ValidateCommand(ctag.Command{Operation: ctag.AddTags{Tags: []string{"not valid!"}}, Query: "q"})
		assert.NoError(t, err)
	})

	t.Run("ValidatorRejectsIncompleteCommand", func(t *testing.T) {
		validator := ctag.NewDefaultValidator()
		err := validator.ValidateCommand(ctag.Command{Operation: ctag.AddTags{Tags: []string{"ok"}}})
		assert.ErrorIs(t, err, ctag.ErrInvalidCommand)
	})
}

func TestDefaultValidator_WarnLabels(t *testing.T) {
	validator := ctag.NewDefaultValidator()

	tests := []struct {
		name string
		op   ctag.TagOperation
		want []string
	}{
		{name: "AddValid", op: ctag.AddTags{Tags: []string{"docs", "team-a"}}},
		{name: "AddInvalid", op: ctag.AddTags{Tags: []string{"docs", "not valid!", "a:b"}}, want: []string{"not valid!", "a:b"}},
		{
			name: "ReplaceChecksNewLabelsOnly",
			op:   ctag.ReplaceTags{Pairs: []ctag.TagPair{{Old: "old label", New: "new"}, {Old: "x", New: "bad label"}}},
			want: []string{"bad label"},
		},
		{name: "RemoveIsNeverChecked", op: ctag.RemoveTags{Tags: []string{"not valid!"}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := validator.WarnLabels(ctag.Command{Operation: test.op, Query: "q"})
			assert.Equal(t, test.want, got)
		})
	}
}

func TestDefaultValidator_ValidateConfig(t *testing.T) {
	validator := ctag.NewDefaultValidator()
	base := func() *ctag.Config {
		cfg := ctag.DefaultConfig()
		cfg.URL = "https://example.atlassian.net"
		cfg.Username = "user"
		cfg.Token = "token"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*ctag.Config)
		want   string
	}{
		{name: "Valid", mutate: func(*ctag.Config) {}},
		{name: "MissingURL", mutate: func(c *ctag.Config) { c.URL = "" }, want: "ATLASSIAN_URL"},
		{name: "UnknownAuditDriver", mutate: func(c *ctag.Config) { c.Audit.Driver = "kafka" }, want: "audit.driver"},
		{name: "SQLiteWithoutPath", mutate: func(c *ctag.Config) { c.Audit.Driver = "sqlite" }, want: "audit.path"},
		{
			name:   "JSONLWithPath",
			mutate: func(c *ctag.Config) { c.Audit = ctag.AuditConfig{Driver: "jsonl", Path: "audit.jsonl"} },
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := base()
			test.mutate(cfg)
			err := validator.ValidateConfig(cfg)
			if test.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, test.want)
		})
	}

	assert.Error(t, validator.ValidateConfig(nil))
}
