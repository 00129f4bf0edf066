package simulator

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// 条件表达式：受限的比较语言，不支持任意代码
//
//	name not-empty
//	age >= 18
//	answer is "yes" or answer is "y"
//	email contains "@" and email end-with ".com"
//
// 同一表达式内不能混用 and / or。

type operandKind int

const (
	operandVar operandKind = iota
	operandString
	operandNumber
	operandBool
)

type operand struct {
	kind operandKind
	raw  string
	num  float64
	b    bool
}

type clause struct {
	left  operand
	op    string
	right *operand
}

// Expression 已编译的条件表达式
type Expression struct {
	source  string
	clauses []clause
	and     bool
}

var unaryOps = map[string]string{
	"empty":        "empty",
	"is-empty":     "empty",
	"not-empty":    "not-empty",
	"is-not-empty": "not-empty",
	"exist":        "exist",
	"exists":       "exist",
	"is-not-null":  "exist",
	"not-exist":    "not-exist",
	"is-null":      "not-exist",
}

var binaryOps = map[string]string{
	"contains":     "contains",
	"not-contains": "not-contains",
	"start-with":   "start-with",
	"starts-with":  "start-with",
	"end-with":     "end-with",
	"ends-with":    "end-with",
	"is":           "is",
	"equal":        "is",
	"is-not":       "is-not",
	"not-equal":    "is-not",
	"==":           "==",
	"eq":           "==",
	"!=":           "!=",
	"ne":           "!=",
	">":            ">",
	"gt":           ">",
	"<":            "<",
	"lt":           "<",
	">=":           ">=",
	"gte":          ">=",
	"<=":           "<=",
	"lte":          "<=",
}

// Compile 解析条件表达式
func Compile(src string) (*Expression, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrExpression)
	}

	expr := &Expression{source: src}
	joiner := ""
	var cur []token
	flush := func() error {
		c, err := parseClause(cur)
		if err != nil {
			return err
		}
		expr.clauses = append(expr.clauses, c)
		cur = nil
		return nil
	}
	for _, t := range tokens {
		if !t.quoted && (strings.EqualFold(t.text, "and") || strings.EqualFold(t.text, "or")) {
			j := strings.ToLower(t.text)
			if joiner != "" && joiner != j {
				return nil, fmt.Errorf("%w: cannot mix and/or in %q", ErrExpression, src)
			}
			joiner = j
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		cur = append(cur, t)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	expr.and = joiner != "or"
	return expr, nil
}

func parseClause(tokens []token) (clause, error) {
	switch len(tokens) {
	case 0:
		return clause{}, fmt.Errorf("%w: missing operand", ErrExpression)
	case 1:
		return clause{left: parseOperand(tokens[0])}, nil
	case 2:
		op, ok := unaryOps[strings.ToLower(tokens[1].text)]
		if !ok || tokens[1].quoted {
			return clause{}, fmt.Errorf("%w: unknown unary operator %q", ErrExpression, tokens[1].text)
		}
		return clause{left: parseOperand(tokens[0]), op: op}, nil
	case 3:
		op, ok := binaryOps[strings.ToLower(tokens[1].text)]
		if !ok || tokens[1].quoted {
			return clause{}, fmt.Errorf("%w: unknown operator %q", ErrExpression, tokens[1].text)
		}
		right := parseOperand(tokens[2])
		return clause{left: parseOperand(tokens[0]), op: op, right: &right}, nil
	default:
		return clause{}, fmt.Errorf("%w: unexpected token %q", ErrExpression, tokens[3].text)
	}
}

func parseOperand(t token) operand {
	if t.quoted {
		return operand{kind: operandString, raw: t.text}
	}
	if f, err := strconv.ParseFloat(t.text, 64); err == nil {
		return operand{kind: operandNumber, raw: t.text, num: f}
	}
	switch strings.ToLower(t.text) {
	case "true":
		return operand{kind: operandBool, raw: t.text, b: true}
	case "false":
		return operand{kind: operandBool, raw: t.text, b: false}
	}
	return operand{kind: operandVar, raw: t.text}
}

type token struct {
	text   string
	quoted bool
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '"' || r == '\'':
			j := i + 1
			var sb strings.Builder
			for ; j < len(rs) && rs[j] != r; j++ {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				sb.WriteRune(rs[j])
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("%w: unterminated string in %q", ErrExpression, src)
			}
			tokens = append(tokens, token{text: sb.String(), quoted: true})
			i = j + 1
		default:
			j := i
			for j < len(rs) && !unicode.IsSpace(rs[j]) && rs[j] != '"' && rs[j] != '\'' {
				j++
			}
			tokens = append(tokens, token{text: string(rs[i:j])})
			i = j
		}
	}
	return tokens, nil
}

// String 原始表达式
func (e *Expression) String() string {
	return e.source
}

// Eval 在变量集上求值
func (e *Expression) Eval(vars map[string]any) bool {
	for _, c := range e.clauses {
		ok := c.eval(vars)
		if e.and && !ok {
			return false
		}
		if !e.and && ok {
			return true
		}
	}
	return e.and
}

func (o operand) value(vars map[string]any) (any, bool) {
	switch o.kind {
	case operandString:
		return o.raw, true
	case operandNumber:
		return o.num, true
	case operandBool:
		return o.b, true
	default:
		v, ok := vars[o.raw]
		return v, ok
	}
}

func (c clause) eval(vars map[string]any) bool {
	val, exists := c.left.value(vars)
	if c.op == "" {
		return truthy(val, exists)
	}
	if !exists || val == nil {
		switch c.op {
		case "empty", "not-exist":
			return true
		default:
			return false
		}
	}

	str := fmt.Sprintf("%v", val)
	switch c.op {
	case "empty":
		return str == ""
	case "not-empty":
		return str != ""
	case "exist":
		return true
	case "not-exist":
		return false
	}

	rv, _ := c.right.value(vars)
	expected := fmt.Sprintf("%v", rv)

	switch c.op {
	case "contains":
		return strings.Contains(str, expected)
	case "not-contains":
		return !strings.Contains(str, expected)
	case "start-with":
		return strings.HasPrefix(str, expected)
	case "end-with":
		return strings.HasSuffix(str, expected)
	case "is":
		return str == expected
	case "is-not":
		return str != expected
	}

	lf, lok := toFloat(val)
	rf, rok := toFloat(rv)
	switch c.op {
	case "==":
		if lok && rok {
			return lf == rf
		}
		return str == expected
	case "!=":
		if lok && rok {
			return lf != rf
		}
		return str != expected
	}
	if !lok || !rok {
		return false
	}
	switch c.op {
	case ">":
		return lf > rf
	case "<":
		return lf < rf
	case ">=":
		return lf >= rf
	case "<=":
		return lf <= rf
	}
	return false
}

func truthy(v any, exists bool) bool {
	if !exists || v == nil {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		return s != "" && s != "false" && s != "0" && s != "no"
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
