package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// RegisterBuiltins adds the stock tools: calculate, get_current_time, echo.
func RegisterBuiltins(registry *Registry) error {
	builtins := []Tool{
		{
			Name:        "calculate",
			Description: "Evaluate an arithmetic expression with +, -, *, / and parentheses.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{
						"type":        "string",
						"description": "The arithmetic expression to evaluate, e.g. \"2+3\".",
					},
				},
				"required": []any{"expression"},
			},
			Fn: calculate,
		},
		{
			Name:        "get_current_time",
			Description: "Return the current UTC time in RFC 3339 format.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				return time.Now().UTC().Format(time.RFC3339), nil
			},
		},
		{
			Name:        "echo",
			Description: "Return the given text unchanged.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required": []any{"text"},
			},
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				text, _ := args["text"].(string)
				return text, nil
			},
		},
	}

	for _, tool := range builtins {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func calculate(_ context.Context, args map[string]any) (any, error) {
	expression, _ := args["expression"].(string)
	if strings.TrimSpace(expression) == "" {
		return nil, Errorf("ValueError", "expression is empty")
	}
	p := &exprParser{input: expression}
	result, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return nil, Errorf("SyntaxError", "unexpected %q at offset %d", p.input[p.pos], p.pos)
	}
	return result, nil
}

// exprParser is a recursive-descent evaluator over + - * / and parentheses.
// Grammar: expr = term (('+'|'-') term)*; term = factor (('*'|'/') factor)*;
// factor = number | '-' factor | '(' expr ')'.
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
			continue
		}
		if right == 0 {
			return 0, Errorf("ZeroDivisionError", "division by zero")
		}
		left /= right
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, Errorf("SyntaxError", "unexpected end of expression")
	}

	switch c := p.input[p.pos]; {
	case c == '-':
		p.pos++
		v, err := p.parseFactor()
		return -v, err

	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, Errorf("SyntaxError", "missing closing parenthesis")
		}
		p.pos++
		return v, nil

	case unicode.IsDigit(rune(c)) || c == '.':
		start := p.pos
		for p.pos < len(p.input) && (unicode.IsDigit(rune(p.input[p.pos])) || p.input[p.pos] == '.') {
			p.pos++
		}
		v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return 0, Errorf("ValueError", "invalid number %q", p.input[start:p.pos])
		}
		return v, nil

	default:
		return 0, Errorf("SyntaxError", "unexpected %q at offset %d", fmt.Sprintf("%c", c), p.pos)
	}
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}
