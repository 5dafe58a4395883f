package ctag

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

// MaxLabelLength is the longest label the remote accepts.
const MaxLabelLength = 255

// Characters the remote refuses inside a label.
const forbiddenLabelChars = "!#&()*,.:;<>?@[]^"

var (
	forbiddenLabelPattern = regexp.MustCompile(`[` + regexp.QuoteMeta(forbiddenLabelChars) + `\s]+`)
	repeatedHyphens       = regexp.MustCompile(`-{2,}`)
)

type Validator interface {
	ValidateTag(tag string) *ValidationResult
	ValidateCommand(cmd Command) error
	WarnLabels(cmd Command) []string
	ValidateConfig(config *Config) error
}

type DefaultValidator struct {
	log zerolog.Logger
}

func NewDefaultValidator() *DefaultValidator {
	return &DefaultValidator{log: newLogger("validator")}
}

func (v *DefaultValidator) ValidateTag(tag string) *ValidationResult {
	result := &ValidationResult{
		IsValid:     true,
		Issues:      []string{},
		Suggestions: []string{},
	}

	if strings.TrimSpace(tag) == "" {
		result.IsValid = false
		result.Issues = append(result.Issues, "Label cannot be empty")
		return result
	}

	if len(tag) > MaxLabelLength {
		result.IsValid = false
		result.Issues = append(result.Issues, fmt.Sprintf("Label must be at most %d characters long", MaxLabelLength))
	}

	if strings.IndexFunc(tag, unicode.IsSpace) >= 0 {
		result.IsValid = false
		result.Issues = append(result.Issues, "Label cannot contain whitespace")
	}

	if strings.ContainsAny(tag, forbiddenLabelChars) {
		result.IsValid = false
		result.Issues = append(result.Issues, fmt.Sprintf("Label contains invalid characters (none of %s allowed)", forbiddenLabelChars))
	}

	if !result.IsValid {
		if suggested := SuggestLabel(tag); suggested != "" && suggested != tag {
			result.Suggestions = append(result.Suggestions, fmt.Sprintf("Suggested: %s", suggested))
		}
		return result
	}

	if lower := strings.ToLower(tag); lower != tag {
		result.Suggestions = append(result.Suggestions, fmt.Sprintf("Labels are stored in lowercase, consider: %s", lower))
	}
	if repeatedHyphens.MatchString(tag) {
		result.Suggestions = append(result.Suggestions, fmt.Sprintf("Consider: %s", repeatedHyphens.ReplaceAllString(tag, "-")))
	}

	return result
}

// SuggestLabel rewrites tag into a label the remote would accept.
func SuggestLabel(tag string) string {
	suggested := forbiddenLabelPattern.ReplaceAllString(strings.TrimSpace(tag), "-")
	suggested = repeatedHyphens.ReplaceAllString(suggested, "-")
	suggested = strings.Trim(strings.ToLower(suggested), "-")
	if len(suggested) > MaxLabelLength {
		suggested = suggested[:MaxLabelLength]
	}
	return suggested
}

// ValidateCommand checks cmd and warns about labels the remote is likely to
// reject.
func (v *DefaultValidator) ValidateCommand(cmd Command) error {
	if err := ValidateCommand(cmd); err != nil {
		return err
	}
	v.WarnLabels(cmd)
	return nil
}

// WarnLabels logs a warning for every literal label cmd would write that the
// remote is likely to reject, and returns those labels. The remote stays
// authoritative so they are not errors.
func (v *DefaultValidator) WarnLabels(cmd Command) []string {
	var labels []string
	switch op := cmd.Operation.(type) {
	case AddTags:
		labels = op.Tags
	case ReplaceTags:
		for _, pair := range op.Pairs {
			labels = append(labels, pair.New)
		}
	}

	var rejected []string
	for _, label := range labels {
		if result := v.ValidateTag(label); !result.IsValid {
			v.log.Warn().Str("label", label).Strs("issues", result.Issues).Msg("label will likely be rejected")
			rejected = append(rejected, label)
		}
	}
	return rejected
}

func (v *DefaultValidator) ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return err
	}
	switch config.Audit.Driver {
	case "", "none", "jsonl", "sqlite":
	default:
		return fmt.Errorf("audit.driver must be one of none, jsonl or sqlite, got %q", config.Audit.Driver)
	}
	if config.Audit.Driver == "jsonl" || config.Audit.Driver == "sqlite" {
		if config.Audit.Path == "" {
			return fmt.Errorf("audit.path is required for the %s audit driver", config.Audit.Driver)
		}
	}
	return nil
}

// ValidateCommand checks that cmd is complete: a query, an operation and
// non-blank operands.
func ValidateCommand(cmd Command) error {
	if strings.TrimSpace(cmd.Query) == "" {
		return &ValidationError{Field: "cql_expression", Message: "query cannot be empty"}
	}

	switch op := cmd.Operation.(type) {
	case nil:
		return &ValidationError{Field: "action", Message: "missing operation"}
	case AddTags:
		return validateOperands(op.Tags)
	case RemoveTags:
		return validateOperands(op.Tags)
	case ReplaceTags:
		if len(op.Pairs) == 0 {
			return &ValidationError{Field: "tags", Message: "replace requires at least one old=new pair"}
		}
		for i, pair := range op.Pairs {
			if strings.TrimSpace(pair.Old) == "" || strings.TrimSpace(pair.New) == "" {
				return &ValidationError{Field: "tags", Message: fmt.Sprintf("pair %d is incomplete: %q=%q", i+1, pair.Old, pair.New)}
			}
		}
	}
	return nil
}

func validateOperands(tags []string) error {
	if len(tags) == 0 {
		return &ValidationError{Field: "tags", Message: "at least one tag is required"}
	}
	for i, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			return &ValidationError{Field: "tags", Message: fmt.Sprintf("tag %d is blank", i+1)}
		}
	}
	return nil
}
