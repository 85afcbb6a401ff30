package widget

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed script.yaml
var defaultScript []byte

const inputPlaceholder = "{input}"

// Script is the scripted dialogue: every text the agent says, the choice
// lists, canned answers and prompt templates. Templates use {input} for the
// user's literal choice or text.
type Script struct {
	ContactURL string   `yaml:"contact_url"`
	MaxRetries int      `yaml:"max_retries"`
	Messages   Messages `yaml:"messages"`
	Labels     Labels   `yaml:"labels"`
	Website    Website  `yaml:"website"`
	AI         AITrack  `yaml:"ai"`
}

type Messages struct {
	Greeting            string `yaml:"greeting"`
	OpeningContact      string `yaml:"opening_contact"`
	WebsiteAge          string `yaml:"website_age"`
	AIBusiness          string `yaml:"ai_business"`
	GeneratingWebsite   string `yaml:"generating_website"`
	GeneratingAI        string `yaml:"generating_ai"`
	Retrying            string `yaml:"retrying"`
	ConnectionIssue     string `yaml:"connection_issue"`
	Unreachable         string `yaml:"unreachable"`
	Closing             string `yaml:"closing"`
	DeclineWebsite      string `yaml:"decline_website"`
	DeclineAI           string `yaml:"decline_ai"`
	ContactPrompt       string `yaml:"contact_prompt"`
	ContactThanks       string `yaml:"contact_thanks"`
	ContactMissingEmail string `yaml:"contact_missing_email"`
	BenefitsIntro       string `yaml:"benefits_intro"`
}

type Labels struct {
	Website             string `yaml:"website"`
	AI                  string `yaml:"ai"`
	SomethingElse       string `yaml:"something_else"`
	BusinessPlaceholder string `yaml:"business_placeholder"`
	Yes                 string `yaml:"yes"`
	No                  string `yaml:"no"`
	StartOver           string `yaml:"start_over"`
	TryAgain            string `yaml:"try_again"`
	ShowDefault         string `yaml:"show_default"`
	Send                string `yaml:"send"`
}

type Website struct {
	Ages    []string          `yaml:"ages"`
	Canned  map[string]string `yaml:"canned"`
	Default string            `yaml:"default"`
	Prompt  string            `yaml:"prompt"`
}

type AITrack struct {
	Rules   []BenefitRule `yaml:"rules"`
	Default []string      `yaml:"default"`
	Prompt  string        `yaml:"prompt"`
}

// BenefitRule matches a business type when any keyword is a case-insensitive
// substring of it.
type BenefitRule struct {
	Keywords []string `yaml:"keywords"`
	Benefits []string `yaml:"benefits"`
}

var (
	scriptOnce   sync.Once
	parsedScript *Script
)

// DefaultScript returns the embedded dialogue.
func DefaultScript() *Script {
	scriptOnce.Do(func() {
		s, err := ParseScript(defaultScript)
		if err != nil {
			panic(fmt.Sprintf("embedded script: %v", err))
		}
		parsedScript = s
	})
	return parsedScript
}

// LoadScript reads a dialogue override from path.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read script")
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parse script")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Script) Validate() error {
	switch {
	case len(s.Website.Ages) == 0:
		return errors.New("script: website.ages is empty")
	case !strings.Contains(s.Website.Prompt, inputPlaceholder):
		return errors.Errorf("script: website.prompt lacks %s", inputPlaceholder)
	case !strings.Contains(s.AI.Prompt, inputPlaceholder):
		return errors.Errorf("script: ai.prompt lacks %s", inputPlaceholder)
	case len(s.AI.Default) == 0:
		return errors.New("script: ai.default is empty")
	case s.MaxRetries < 0:
		return errors.New("script: max_retries is negative")
	}
	return nil
}

func fill(template, input string) string {
	return strings.ReplaceAll(template, inputPlaceholder, input)
}

// WebsiteAdvice is the canned answer for a website age choice.
func (s *Script) WebsiteAdvice(age string) string {
	if msg, ok := s.Website.Canned[age]; ok {
		return msg
	}
	return s.Website.Default
}

// Benefits classifies a business type by the first matching rule.
func (s *Script) Benefits(businessType string) []string {
	key := strings.ToLower(businessType)
	for _, rule := range s.AI.Rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(key, strings.ToLower(kw)) {
				return rule.Benefits
			}
		}
	}
	return s.AI.Default
}

func numbered(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("%d. %s", i+1, item)
	}
	return strings.Join(lines, "\n")
}
