package parser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// StringLiteral returns the value of a plain Python string literal node,
// including implicit concatenation of adjacent literals. f-strings, byte
// strings and anything else that is not a constant yield ok=false.
func StringLiteral(node *sitter.Node, source []byte) (string, bool) {
	if node == nil {
		return "", false
	}
	switch node.Kind() {
	case "string":
		return singleLiteral(node, source)
	case "concatenated_string":
		var b strings.Builder
		for i := uint(0); i < node.NamedChildCount(); i++ {
			part, ok := singleLiteral(node.NamedChild(i), source)
			if !ok {
				return "", false
			}
			b.WriteString(part)
		}
		return b.String(), true
	case "parenthesized_expression":
		if node.NamedChildCount() == 1 {
			return StringLiteral(node.NamedChild(0), source)
		}
	}
	return "", false
}

func singleLiteral(node *sitter.Node, source []byte) (string, bool) {
	if node == nil || node.Kind() != "string" {
		return "", false
	}
	for i := uint(0); i < node.NamedChildCount(); i++ {
		if node.NamedChild(i).Kind() == "interpolation" {
			return "", false
		}
	}
	text := string(source[node.StartByte():node.EndByte()])
	prefixEnd := strings.IndexAny(text, `"'`)
	if prefixEnd < 0 {
		return "", false
	}
	prefix := strings.ToLower(text[:prefixEnd])
	if strings.ContainsAny(prefix, "fb") {
		return "", false
	}
	body := text[prefixEnd:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(body) >= 2*len(q) && strings.HasPrefix(body, q) && strings.HasSuffix(body, q) {
			body = body[len(q) : len(body)-len(q)]
			if !strings.Contains(prefix, "r") {
				body = unescape(body)
			}
			return body, true
		}
	}
	return "", false
}

var escapes = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\'`, `'`, `\n`, "\n", `\t`, "\t")

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	return escapes.Replace(s)
}
