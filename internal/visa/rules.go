package visa

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// ruleFile is the on-disk shape of a resolution table.
type ruleFile struct {
	Version string     `yaml:"version"`
	Rules   []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Code  Code        `yaml:"code"`
	Match []matchSpec `yaml:"match"`
}

type matchSpec struct {
	Pattern       string `yaml:"pattern"`
	NotFollowedBy string `yaml:"not_followed_by,omitempty"`
}

// rule maps one canonical code to its matchers. Any matcher hitting is a match.
type rule struct {
	code     Code
	matchers []matcher
}

type matcher struct {
	re    *regexp.Regexp
	guard *regexp.Regexp // rejects a hit when it matches the remaining text
}

func (m matcher) match(s string) bool {
	if m.guard == nil {
		return m.re.MatchString(s)
	}
	for _, loc := range m.re.FindAllStringIndex(s, -1) {
		if !m.guard.MatchString(s[loc[1]:]) {
			return true
		}
	}
	return false
}

func (r rule) match(s string) bool {
	for _, m := range r.matchers {
		if m.match(s) {
			return true
		}
	}
	return false
}

// ParseRules compiles a YAML resolution table.
func ParseRules(data []byte) (*Resolver, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "visa: parse rules")
	}
	if strings.TrimSpace(f.Version) == "" {
		return nil, eris.New("visa: rules version is required")
	}
	if len(f.Rules) == 0 {
		return nil, eris.New("visa: rules table is empty")
	}

	rules := make([]rule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		if !Known(spec.Code) {
			return nil, eris.Errorf("visa: rule %d: unknown code %q", i, spec.Code)
		}
		if len(spec.Match) == 0 {
			return nil, eris.Errorf("visa: rule %d (%s): no matchers", i, spec.Code)
		}
		r := rule{code: spec.Code}
		for j, ms := range spec.Match {
			re, err := regexp.Compile(ms.Pattern)
			if err != nil {
				return nil, eris.Wrapf(err, "visa: rule %d (%s) matcher %d", i, spec.Code, j)
			}
			m := matcher{re: re}
			if ms.NotFollowedBy != "" {
				if !strings.HasPrefix(ms.NotFollowedBy, "^") {
					return nil, eris.Errorf("visa: rule %d (%s) matcher %d: not_followed_by must be anchored with ^", i, spec.Code, j)
				}
				g, err := regexp.Compile(ms.NotFollowedBy)
				if err != nil {
					return nil, eris.Wrapf(err, "visa: rule %d (%s) matcher %d guard", i, spec.Code, j)
				}
				m.guard = g
			}
			r.matchers = append(r.matchers, m)
		}
		rules = append(rules, r)
	}

	return &Resolver{version: f.Version, rules: rules}, nil
}

// LoadRules reads a resolution table from a YAML file.
func LoadRules(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "visa: read rules %s", path)
	}
	return ParseRules(data)
}

var defaultResolver = func() *Resolver {
	r, err := ParseRules(defaultRules)
	if err != nil {
		panic(err)
	}
	return r
}()

// Default returns the resolver built from the embedded rule table.
func Default() *Resolver { return defaultResolver }
