package detect

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule matches a byte sequence at a fixed offset.
type Rule struct {
	Label  string `yaml:"label"`
	Offset int    `yaml:"offset"`
	Hex    string `yaml:"hex,omitempty"`
	String string `yaml:"string,omitempty"`

	magic []byte
}

// RuleFile is the YAML document shape accepted by LoadRules:
//
//	rules:
//	  - label: "Acme firmware image"
//	    offset: 0
//	    hex: "41434d45"
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Match reports whether the rule's bytes appear at its offset in head.
func (r *Rule) Match(head []byte) bool {
	if len(r.magic) == 0 {
		return false
	}
	end := r.Offset + len(r.magic)
	return end <= len(head) && bytes.Equal(head[r.Offset:end], r.magic)
}

// compile validates the rule and decodes its match bytes.
func (r *Rule) compile() error {
	if r.Label == "" {
		return errors.New("label is required")
	}
	if r.Offset < 0 || r.Offset >= HeaderSize {
		return fmt.Errorf("offset %d outside [0, %d)", r.Offset, HeaderSize)
	}
	switch {
	case r.Hex != "" && r.String != "":
		return errors.New("only one of hex or string may be set")
	case r.Hex != "":
		b, err := hex.DecodeString(r.Hex)
		if err != nil {
			return fmt.Errorf("hex: %w", err)
		}
		r.magic = b
	case r.String != "":
		r.magic = []byte(r.String)
	default:
		return errors.New("one of hex or string is required")
	}
	return nil
}

// NewRule builds a validated rule. Exactly one of hexBytes or text must be set.
func NewRule(label string, offset int, hexBytes, text string) (Rule, error) {
	r := Rule{Label: label, Offset: offset, Hex: hexBytes, String: text}
	if err := r.compile(); err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", label, err)
	}
	return r, nil
}

// LoadRules reads a YAML rule file. Unknown fields are rejected.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule document.
func ParseRules(data []byte) ([]Rule, error) {
	var file RuleFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse rule file: %w", err)
	}

	for i := range file.Rules {
		if err := file.Rules[i].compile(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, file.Rules[i].Label, err)
		}
	}
	return file.Rules, nil
}
