package core

import (
	"fmt"
	"strings"

	"pkt.systems/eclkernel/schema"
)

const (
	inputDirective    = "//#input"
	passwordDirective = "//#password"
)

// inputBinding is a value the code asks for on stdin before submission.
//
//	//#input threshold: Minimum count?
//	//#password token
type inputBinding struct {
	Name     string
	Prompt   string
	Password bool
}

func parseInputBindings(code string) ([]inputBinding, error) {
	var bindings []inputBinding
	for _, raw := range strings.Split(code, "\n") {
		line := strings.TrimSpace(raw)
		var rest string
		var password bool
		switch {
		case strings.HasPrefix(line, passwordDirective+" "):
			rest = strings.TrimPrefix(line, passwordDirective)
			password = true
		case strings.HasPrefix(line, inputDirective+" "):
			rest = strings.TrimPrefix(line, inputDirective)
		default:
			continue
		}
		name, prompt, hasPrompt := strings.Cut(strings.TrimSpace(rest), ":")
		name = strings.TrimSpace(name)
		if !isIdentifier(name) {
			return nil, fmt.Errorf("%w: invalid input name %q", schema.ErrInvalidRequest, name)
		}
		prompt = strings.TrimSpace(prompt)
		if !hasPrompt || prompt == "" {
			prompt = name
		}
		bindings = append(bindings, inputBinding{Name: name, Prompt: prompt + " ", Password: password})
	}
	return bindings, nil
}

func bindInputs(code string, bindings []inputBinding, values []string) string {
	if len(bindings) == 0 {
		return code
	}
	var b strings.Builder
	for i, binding := range bindings {
		fmt.Fprintf(&b, "%s := %s;\n", binding.Name, quoteECL(values[i]))
	}
	b.WriteString(code)
	return b.String()
}

func quoteECL(value string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range value {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
