package expr

import (
	"regexp"
	"strings"
)

// splitStatements splits on ';' and newlines outside of brackets, strings and
// template interpolations.
func splitStatements(src string) []string {
	var (
		out   []string
		stack []byte
		start int
	)
	inString := func() bool {
		return len(stack) > 0 && stack[len(stack)-1] == '"'
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inString() {
			switch {
			case c == '\\':
				i++
			case c == '"':
				stack = stack[:len(stack)-1]
			case (c == '$' || c == '%') && i+1 < len(src) && src[i+1] == '{':
				stack = append(stack, '{')
				i++
			}
			continue
		}
		switch c {
		case '"', '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case ';', '\n':
			if len(stack) == 0 {
				out = append(out, src[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, src[start:])

	stmts := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// ident is an HCL identifier that does not end in '-', so "n-=1" reads as n -= 1.
const ident = `[A-Za-z_](?:[A-Za-z0-9_-]*[A-Za-z0-9_])?`

var assignment = regexp.MustCompile(`(?s)^(` + ident + `(?:\.` + ident + `)*)\s*(\+=|-=|=)(.*)$`)

// parseAssignment splits "a.b = expr" into its target path and expression.
// Compound operators are rewritten, "a += x" becomes "a + (x)". Statements
// that are not assignments come back with a nil target.
func parseAssignment(stmt string) ([]string, string) {
	m := assignment.FindStringSubmatch(stmt)
	if m == nil {
		return nil, stmt
	}
	target, op, rest := m[1], m[2], strings.TrimSpace(m[3])
	if op == "=" && strings.HasPrefix(rest, "=") {
		return nil, stmt
	}
	path := strings.Split(target, ".")
	switch op {
	case "+=":
		return path, target + " + (" + rest + ")"
	case "-=":
		return path, target + " - (" + rest + ")"
	}
	return path, rest
}
