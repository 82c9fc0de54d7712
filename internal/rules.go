package internal

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/PaesslerAG/jsonpath"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Rule forwards events matching When to the topics in Emit.
type Rule struct {
	When    string   `yaml:"when"`
	Emit    EmitList `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
}

// EmitList accepts either a single topic or a list of topics.
type EmitList []string

func (e *EmitList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*e = EmitList{node.Value}
		return nil
	case yaml.SequenceNode:
		var topics []string
		if err := node.Decode(&topics); err != nil {
			return err
		}
		*e = topics
		return nil
	default:
		return fmt.Errorf("emit must be a string or a list, line %d", node.Line)
	}
}

// RuleMatch is one topic an event should be published to.
type RuleMatch struct {
	Topic   string
	Drivers []string
}

// RulesConfig represents the rule-specific parts of the configuration.
type RulesConfig struct {
	Rules  []Rule
	Strict bool
	Logger *zap.SugaredLogger
}

var (
	literalPattern = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)
	pathPattern    = regexp.MustCompile(`\$(?:\.[A-Za-z_][A-Za-z0-9_]*|\[[^\]]*\])+|[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*|\[[0-9]+\])+`)
)

var errMissing = errors.New("missing value")

type compiledRule struct {
	when    string
	emit    []string
	drivers []string
	expr    *govaluate.EvaluableExpression
	paths   map[string]string
}

// RuleEngine evaluates forwarding rules against processed events.
type RuleEngine struct {
	rules  []compiledRule
	strict bool
	logger *zap.SugaredLogger
}

func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		rewritten, paths := extractPaths(rule.When)
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(rewritten, ruleFunctions)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, compiledRule{
			when:    rule.When,
			emit:    rule.Emit,
			drivers: rule.Drivers,
			expr:    expr,
			paths:   paths,
		})
	}

	return &RuleEngine{rules: rules, strict: cfg.Strict, logger: logger}, nil
}

// Evaluate returns one match per emitted topic of every rule that holds for
// event. Rules that cannot be evaluated are logged and skipped.
func (r *RuleEngine) Evaluate(event Event) []RuleMatch {
	if r == nil || len(r.rules) == 0 {
		return nil
	}
	doc, err := event.Document()
	if err != nil {
		r.logger.Warnw("rule input invalid", "event", event.Type, "error", err)
		return nil
	}
	params := &ruleParameters{doc: doc, flat: Flatten(doc), strict: r.strict}

	matches := make([]RuleMatch, 0, 1)
	for _, rule := range r.rules {
		params.paths = rule.paths
		result, err := rule.expr.Eval(params)
		if err != nil {
			if r.strict || !errors.Is(err, errMissing) {
				r.logger.Warnw("rule eval failed", "when", rule.when, "error", err)
			}
			continue
		}
		if ok, _ := result.(bool); !ok {
			continue
		}
		for _, topic := range rule.emit {
			matches = append(matches, RuleMatch{Topic: topic, Drivers: rule.drivers})
		}
	}
	return matches
}

// extractPaths replaces path expressions outside string literals with plain
// parameter names. govaluate resolves dotted names only on structs.
func extractPaths(expr string) (string, map[string]string) {
	paths := make(map[string]string)
	var b strings.Builder
	last := 0
	rewrite := func(segment string) string {
		return pathPattern.ReplaceAllStringFunc(segment, func(path string) string {
			name := fmt.Sprintf("lookoutPath%d", len(paths))
			paths[name] = path
			return name
		})
	}
	for _, loc := range literalPattern.FindAllStringIndex(expr, -1) {
		b.WriteString(rewrite(expr[last:loc[0]]))
		b.WriteString(expr[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(rewrite(expr[last:]))
	return b.String(), paths
}

type ruleParameters struct {
	doc    map[string]interface{}
	flat   map[string]interface{}
	paths  map[string]string
	strict bool
}

func (p *ruleParameters) Get(name string) (interface{}, error) {
	if path, ok := p.paths[name]; ok {
		value, err := p.resolvePath(path)
		return exposeValue(value), err
	}
	if value, ok := p.doc[name]; ok {
		return exposeValue(value), nil
	}
	return p.missing(name)
}

// ruleList hides slices from govaluate, which would otherwise splice them
// into function argument lists.
type ruleList []interface{}

func exposeValue(value interface{}) interface{} {
	if list, ok := value.([]interface{}); ok {
		return ruleList(list)
	}
	return value
}

func (p *ruleParameters) resolvePath(path string) (interface{}, error) {
	if strings.HasPrefix(path, "$") {
		value, err := jsonpath.Get(path, p.doc)
		if err != nil {
			return p.missing(path)
		}
		return value, nil
	}
	if value, ok := p.flat[path]; ok {
		return value, nil
	}
	return p.missing(path)
}

// missing yields nil so comparisons against absent fields are false. In
// strict mode an absent field fails the rule instead.
func (p *ruleParameters) missing(name string) (interface{}, error) {
	if p.strict {
		return nil, fmt.Errorf("%w: %s", errMissing, name)
	}
	return nil, nil
}

var ruleFunctions = map[string]govaluate.ExpressionFunction{
	"contains": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.New("contains expects 2 arguments")
		}
		switch haystack := args[0].(type) {
		case string:
			needle, _ := args[1].(string)
			return strings.Contains(haystack, needle), nil
		case ruleList:
			for _, item := range haystack {
				if reflect.DeepEqual(item, args[1]) {
					return true, nil
				}
			}
			return false, nil
		case map[string]interface{}:
			key, _ := args[1].(string)
			_, ok := haystack[key]
			return ok, nil
		default:
			return false, nil
		}
	},
	"like": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, errors.New("like expects 2 arguments")
		}
		value, _ := args[0].(string)
		pattern, _ := args[1].(string)
		re, err := likePattern(pattern)
		if err != nil {
			return nil, err
		}
		return re.MatchString(value), nil
	},
	"len": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("len expects 1 argument")
		}
		switch typed := args[0].(type) {
		case string:
			return float64(len(typed)), nil
		case ruleList:
			return float64(len(typed)), nil
		case map[string]interface{}:
			return float64(len(typed)), nil
		default:
			return float64(0), nil
		}
	},
}

// likePattern turns an SQL LIKE pattern into an anchored regexp.
func likePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
