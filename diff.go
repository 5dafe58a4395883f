package ctag

import (
	"fmt"
	"regexp"
)

type compiledPair struct {
	old     string
	pattern *regexp.Regexp
	new     string
}

// DiffPlan is a TagOperation with its patterns compiled. It is safe to reuse
// across pages and has no side effects.
type DiffPlan struct {
	op       TagOperation
	tags     []string
	patterns []*regexp.Regexp
	pairs    []compiledPair
}

// CompileOperation validates op and compiles any patterns it carries. A pattern
// that fails to compile returns a *PatternCompileError.
func CompileOperation(op TagOperation) (*DiffPlan, error) {
	plan := &DiffPlan{op: op}

	switch o := op.(type) {
	case AddTags:
		if len(o.Tags) == 0 {
			return nil, &ValidationError{Field: "tags", Message: "add requires at least one tag"}
		}
		plan.tags = o.Tags
	case RemoveTags:
		if len(o.Tags) == 0 {
			return nil, &ValidationError{Field: "tags", Message: "remove requires at least one tag"}
		}
		plan.tags = o.Tags
		if o.Pattern {
			for _, expr := range o.Tags {
				re, err := regexp.Compile(expr)
				if err != nil {
					return nil, &PatternCompileError{Pattern: expr, Err: err}
				}
				plan.patterns = append(plan.patterns, re)
			}
		}
	case ReplaceTags:
		if len(o.Pairs) == 0 {
			return nil, &ValidationError{Field: "tags", Message: "replace requires at least one pair"}
		}
		for _, pair := range o.Pairs {
			compiled := compiledPair{old: pair.Old, new: pair.New}
			if o.Pattern {
				re, err := regexp.Compile(pair.Old)
				if err != nil {
					return nil, &PatternCompileError{Pattern: pair.Old, Err: err}
				}
				compiled.pattern = re
			}
			plan.pairs = append(plan.pairs, compiled)
		}
	case nil:
		return nil, &ValidationError{Field: "action", Message: "missing operation"}
	default:
		return nil, &ValidationError{Field: "action", Message: fmt.Sprintf("unsupported operation %T", op)}
	}

	return plan, nil
}

func (p *DiffPlan) Operation() TagOperation {
	return p.op
}

// Apply computes the resulting tag set for current. current is not modified.
func (p *DiffPlan) Apply(current TagSet) TagSet {
	after := current.Clone()

	switch o := p.op.(type) {
	case AddTags:
		for _, tag := range o.Tags {
			after.Add(tag)
		}
	case RemoveTags:
		if !o.Pattern {
			for _, tag := range o.Tags {
				after.Remove(tag)
			}
			break
		}
		for tag := range current {
			for _, re := range p.patterns {
				if re.MatchString(tag) {
					after.Remove(tag)
					break
				}
			}
		}
	case ReplaceTags:
		for _, pair := range p.pairs {
			if pair.pattern == nil {
				if pair.old == pair.new || !after.Has(pair.old) {
					continue
				}
				after.Remove(pair.old)
				after.Add(pair.new)
				continue
			}

			var matched []string
			for tag := range after {
				if pair.pattern.MatchString(tag) {
					matched = append(matched, tag)
				}
			}
			if len(matched) == 0 {
				continue
			}
			for _, tag := range matched {
				after.Remove(tag)
			}
			after.Add(pair.new)
		}
	}

	return after
}

// Delta computes the full before/after/added/removed record for page.
func (p *DiffPlan) Delta(page PageRef, current TagSet) TagDelta {
	before := current.Clone()
	after := p.Apply(before)
	return TagDelta{
		Page:    page,
		Before:  before,
		After:   after,
		Added:   after.Minus(before),
		Removed: before.Minus(after),
	}
}

// Diff compiles op and applies it to current in one step.
func Diff(current TagSet, op TagOperation) (after, added, removed TagSet, err error) {
	plan, err := CompileOperation(op)
	if err != nil {
		return nil, nil, nil, err
	}
	delta := plan.Delta(PageRef{}, current)
	return delta.After, delta.Added, delta.Removed, nil
}
