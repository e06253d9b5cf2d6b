// Package command implements the command parser (C2): it splits a raw chat
// message into a command name and argument string, then parses that
// argument string into either a positional list or a name-keyed map,
// validating the result against an action.Spec.
//
// There is no shell-word-splitting library in the retrieved example pack
// (the Python original leans on stdlib shlex, which has no direct Go
// equivalent among the teacher's or the pack's dependencies), so Split is a
// small hand-rolled scanner modeled on the teacher's general preference for
// explicit, dependency-free parsers for narrow lexical tasks.
package command

import (
	"fmt"
	"strings"

	"github.com/muellerberndt/legion-core/action"
)

// ParseMessage splits a full chat message (e.g. "/search pattern=test") into
// a command name and the raw argument tail. The leading slash, if any, is
// stripped.
func ParseMessage(message string) (name string, rawArgs string) {
	trimmed := strings.TrimPrefix(message, "/")
	fields := strings.SplitN(trimmed, " ", 2)
	name = fields[0]
	if len(fields) > 1 {
		rawArgs = fields[1]
	}
	return name, rawArgs
}

// Parsed is the result of parsing an argument string: exactly one of
// Positional or Named is set, mirroring action.Args.
type Parsed struct {
	Positional []string
	Named      map[string]string
}

// ToArgs converts a Parsed result into action.Args.
func (p Parsed) ToArgs() action.Args {
	return action.Args{Positional: p.Positional, Named: p.Named}
}

// ParseArguments parses a raw argument string per the rules in spec §4.2:
//  1. Shell-style tokenize the string (quotes, including embedded spaces and
//     '=', are honored; a fully-quoted token's '=' does not trigger map mode).
//  2. If any unquoted token contains '=', return a name=value map.
//  3. Otherwise return the tokens as a positional list.
//  4. If tokenization fails (unbalanced quote), return the whole raw string
//     as a single positional argument.
//
// An empty argument string returns an empty positional list.
func ParseArguments(rawArgs string) Parsed {
	if strings.TrimSpace(rawArgs) == "" {
		return Parsed{Positional: []string{}}
	}

	tokens, quoted, err := tokenize(rawArgs)
	if err != nil {
		return Parsed{Positional: []string{strings.TrimSpace(rawArgs)}}
	}

	named := map[string]string{}
	hasUnquotedEquals := false
	for i, tok := range tokens {
		if quoted[i] {
			continue
		}
		if key, value, ok := splitKV(tok); ok {
			named[key] = value
			hasUnquotedEquals = true
		}
	}
	if hasUnquotedEquals {
		// Re-scan including quoted tokens that still contain '=' so that a
		// mix of quoted/unquoted key=value pairs all land in the map; a
		// quoted token with no '=' is dropped the same as the Python
		// original would via shlex (kept as a no-op there too).
		for i, tok := range tokens {
			if !quoted[i] {
				continue
			}
			if key, value, ok := splitKV(tok); ok {
				named[key] = value
			}
		}
		return Parsed{Named: named}
	}

	return Parsed{Positional: tokens}
}

func splitKV(tok string) (key, value string, ok bool) {
	idx := strings.Index(tok, "=")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(tok[:idx]), strings.TrimSpace(tok[idx+1:]), true
}

// tokenize performs shell-style word splitting: whitespace separates
// tokens, and both single and double quotes group a run of characters
// (including spaces and '=') into one token with the quotes stripped. The
// second return value marks, per token, whether that token was produced
// from a fully-quoted run (used to decide map-vs-positional precedence).
func tokenize(s string) ([]string, []bool, error) {
	var tokens []string
	var quotedFlags []bool

	runes := []rune(s)
	i, n := 0, len(runes)

	for i < n {
		for i < n && isSpace(runes[i]) {
			i++
		}
		if i >= n {
			break
		}

		var b strings.Builder
		sawQuote := false
		sawBareChar := false
		for i < n && !isSpace(runes[i]) {
			c := runes[i]
			if c == '\'' || c == '"' {
				quote := c
				sawQuote = true
				i++
				start := i
				for i < n && runes[i] != quote {
					i++
				}
				if i >= n {
					return nil, nil, fmt.Errorf("command: unterminated %c quote", quote)
				}
				b.WriteString(string(runes[start:i]))
				i++ // skip closing quote
				continue
			}
			sawBareChar = true
			b.WriteRune(c)
			i++
		}
		tokens = append(tokens, b.String())
		quotedFlags = append(quotedFlags, sawQuote && !sawBareChar)
	}

	return tokens, quotedFlags, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// LooksLikeJSON reports whether s (after any quote-stripping already done by
// ParseArguments) begins with '{' or '[', the heuristic planners use to pass
// a JSON document through as a single positional argument.
func LooksLikeJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// Validate checks parsed arguments against an action.Spec per spec §4.2.
// A nil spec or a spec with no declared arguments accepts anything.
func Validate(parsed Parsed, spec *action.Spec) error {
	if spec == nil || len(spec.Arguments) == 0 {
		return nil
	}

	if parsed.Named != nil {
		return validateNamed(parsed.Named, spec)
	}
	return validatePositional(parsed.Positional, spec)
}

func validateNamed(named map[string]string, spec *action.Spec) error {
	valid := make(map[string]struct{}, len(spec.Arguments))
	var missing []string
	for _, arg := range spec.Arguments {
		valid[arg.Name] = struct{}{}
		if arg.Required {
			if _, ok := named[arg.Name]; !ok {
				missing = append(missing, arg.Name)
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("command: missing required parameters: %s", strings.Join(missing, ", "))
	}
	var unknown []string
	for name := range named {
		if _, ok := valid[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("command: unknown parameters: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func validatePositional(args []string, spec *action.Spec) error {
	required := 0
	for _, arg := range spec.Arguments {
		if arg.Required {
			required++
		}
	}
	if len(args) < required {
		return fmt.Errorf("command: not enough arguments, required %d, got %d", required, len(args))
	}
	if len(args) > len(spec.Arguments) {
		return fmt.Errorf("command: too many arguments, maximum %d, got %d", len(spec.Arguments), len(args))
	}
	return nil
}
