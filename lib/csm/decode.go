package csm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/comms/lib/ttl"
)

// ErrMalformedMessage is returned when a message can not be parsed. It is
// always wrapped with details about the offending record.
var ErrMalformedMessage = errors.New("malformed message")

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// Decode parses an encoded message into its fields. If a name occurs more
// than once the last record wins. On error an empty (non nil) Fields is
// returned together with an error wrapping ErrMalformedMessage.
func Decode(text string) (Fields, error) {
	fields := Fields{}
	for _, fragment := range strings.Split(text, Delimiter) {
		if fragment == "" {
			continue
		}
		name, value, err := decodeRecord(fragment)
		if err != nil {
			return Fields{}, err
		}
		fields[name] = value
	}
	return fields, nil
}

// DecodeLenient behaves like Decode but swallows errors: malformed input
// yields an empty result.
func DecodeLenient(text string) Fields {
	fields, _ := Decode(text)
	return fields
}

// DecodeContainer decodes a message into a new TTL container. Every field is
// stamped with the current time and gets the given default expiry.
func DecodeContainer(text string, defaultExpiry time.Duration, opts ...ttl.Option) (*ttl.Container, error) {
	fields, err := Decode(text)
	c := ttl.New(defaultExpiry, opts...)
	if err != nil {
		return c, err
	}
	c.MergeMap(fields)
	return c, nil
}

// decodeRecord parses one {name:value<tag>} fragment
func decodeRecord(fragment string) (string, any, error) {
	if len(fragment) < 2 || fragment[0] != '{' || fragment[len(fragment)-1] != '}' {
		return "", nil, malformed(fragment, "missing braces")
	}
	body := fragment[1 : len(fragment)-1]

	// the name ends at the first colon
	colon := strings.IndexByte(body, ':')
	if colon < 0 {
		return "", nil, malformed(fragment, "missing name separator")
	}
	name, rest := body[:colon], body[colon+1:]

	// the tag starts at the last '<'
	lt := strings.LastIndexByte(rest, '<')
	if lt < 0 || !strings.HasSuffix(rest, ">") {
		return "", nil, malformed(fragment, "missing type tag")
	}
	text, tag := rest[:lt], rest[lt+1:len(rest)-1]

	value, err := convert(ParseKind(tag), text)
	if err != nil {
		return "", nil, malformed(fragment, err.Error())
	}
	return name, value, nil
}

// convert applies the tag dispatch table to a value text
func convert(kind Kind, text string) (any, error) {
	switch kind {
	case KindInt:
		return strconv.ParseInt(text, 10, 64)
	case KindFloat:
		return strconv.ParseFloat(text, 64)
	case KindStr:
		return text, nil
	case KindBool:
		return parseBool(text)
	case KindNull:
		return nil, nil
	case KindBytes:
		return hex.DecodeString(text)
	case KindList:
		items, err := parseSequence(text)
		if err != nil {
			return nil, err
		}
		return List(items), nil
	case KindTuple:
		items, err := parseSequence(text)
		if err != nil {
			return nil, err
		}
		return Tuple(items), nil
	default:
		return nil, fmt.Errorf("unknown type tag")
	}
}

// parseBool only accepts the two literals a bool is rendered as
func parseBool(text string) (bool, error) {
	switch text {
	case "True":
		return true, nil
	case "False":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool literal %q", text)
	}
}

func malformed(fragment, reason string) error {
	return fmt.Errorf("%w: %s in %q", ErrMalformedMessage, reason, fragment)
}

// --------------------------------------------------------------------------
// Sequences
// --------------------------------------------------------------------------

// ParseLiteral classifies a single printed value the way sequence elements
// are classified. Text that is nothing else stays a string.
func ParseLiteral(text string) any {
	v, err := parseElement(strings.TrimSpace(text))
	if err != nil {
		return text
	}
	return v
}

// parseSequence parses "[a, b, ...]" or "(a, b, ...)" including nested sequences
func parseSequence(text string) ([]any, error) {
	text = strings.TrimSpace(text)
	if len(text) < 2 {
		return nil, fmt.Errorf("invalid sequence %q", text)
	}
	closing := closerOf(text[0])
	if closing == 0 || text[len(text)-1] != closing {
		return nil, fmt.Errorf("unbalanced sequence %q", text)
	}

	tokens, err := splitTopLevel(text[1 : len(text)-1])
	if err != nil {
		return nil, err
	}

	items := make([]any, 0, len(tokens))
	for i, tok := range tokens {
		// a trailing comma is allowed: (1,)
		if tok == "" && i == len(tokens)-1 && i > 0 {
			break
		}
		item, err := parseElement(tok)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// splitTopLevel splits on commas that are neither nested nor quoted
func splitTopLevel(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var (
		tokens []string
		depth  int
		quote  byte
		start  int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[', '(':
			depth++
		case ']', ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced sequence %q", s)
			}
		case ',':
			if depth == 0 {
				tokens = append(tokens, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if quote != 0 || depth != 0 {
		return nil, fmt.Errorf("unterminated element in %q", s)
	}
	return append(tokens, strings.TrimSpace(s[start:])), nil
}

// parseElement classifies one sequence element
func parseElement(tok string) (any, error) {
	if tok == "" {
		return nil, fmt.Errorf("empty element")
	}

	switch tok[0] {
	case '[':
		items, err := parseSequence(tok)
		return List(items), err
	case '(':
		items, err := parseSequence(tok)
		return Tuple(items), err
	case '\'', '"':
		return unquote(tok)
	}

	if strings.HasPrefix(tok, "b'") || strings.HasPrefix(tok, "b\"") {
		inner, err := unquote(tok[1:])
		if err != nil {
			return nil, err
		}
		return hex.DecodeString(inner)
	}

	switch tok {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	}

	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return i, nil
	}
	if looksLikeFloat(tok) {
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			return f, nil
		}
	}

	// bare text stays a string
	return tok, nil
}

func looksLikeFloat(tok string) bool {
	switch strings.TrimLeft(tok, "+-") {
	case "inf", "nan":
		return true
	}
	return strings.ContainsAny(tok, ".eE")
}

// unquote reverses quote for both quote characters
func unquote(tok string) (string, error) {
	if len(tok) < 2 || tok[len(tok)-1] != tok[0] {
		return "", fmt.Errorf("unterminated string %q", tok)
	}
	inner := tok[1 : len(tok)-1]
	if !strings.ContainsRune(inner, '\\') {
		return inner, nil
	}

	var sb strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c != '\\' || i == len(inner)-1 {
			sb.WriteByte(c)
			continue
		}
		i++
		switch inner[i] {
		case 'n':
			sb.WriteByte('\n')
		case 't':
			sb.WriteByte('\t')
		case 'r':
			sb.WriteByte('\r')
		default:
			sb.WriteByte(inner[i])
		}
	}
	return sb.String(), nil
}

func closerOf(open byte) byte {
	switch open {
	case '[':
		return ']'
	case '(':
		return ')'
	default:
		return 0
	}
}
