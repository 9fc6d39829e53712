// Package mathspeech converts LaTeX formula sources into spoken-form
// alt text for Formula structure elements.
package mathspeech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
)

// Converter renders a LaTeX source to a spoken description.
type Converter interface {
	Spoken(ctx context.Context, latex string) (string, error)
}

// None passes the LaTeX source through unchanged. Raw TeX read aloud
// is poor, but it is never wrong, which makes it the safe default.
func None() Converter { return noneConverter{} }

type noneConverter struct{}

func (noneConverter) Spoken(_ context.Context, latex string) (string, error) {
	return strings.TrimSpace(latex), nil
}

// MathML renders the formula to MathML and walks the element tree into
// spoken English. No external process is involved.
func MathML() Converter { return mathmlConverter{} }

type mathmlConverter struct{}

func (mathmlConverter) Spoken(_ context.Context, latex string) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(treeblood.MathML()))
	var buf bytes.Buffer
	if err := md.Convert([]byte("$$"+latex+"$$"), &buf); err != nil {
		return "", fmt.Errorf("mathspeech: render %q: %w", latex, err)
	}
	doc, err := html.Parse(&buf)
	if err != nil {
		return "", fmt.Errorf("mathspeech: parse rendered markup: %w", err)
	}
	spoken := strings.Join(strings.Fields(speak(doc)), " ")
	if spoken == "" {
		return strings.TrimSpace(latex), nil
	}
	return spoken, nil
}

// speak walks a MathML fragment depth-first. Layout elements get
// spoken framing; token elements contribute their text.
func speak(n *html.Node) string {
	if n.Type == html.TextNode {
		return spokenToken(n.Data)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "annotation", "annotation-xml", "script", "style":
			return ""
		case "mfrac":
			parts := childParts(n)
			if len(parts) == 2 {
				return parts[0] + " over " + parts[1]
			}
		case "msup":
			parts := childParts(n)
			if len(parts) == 2 {
				return parts[0] + " to the power " + parts[1]
			}
		case "msub":
			parts := childParts(n)
			if len(parts) == 2 {
				return parts[0] + " sub " + parts[1]
			}
		case "msubsup":
			parts := childParts(n)
			if len(parts) == 3 {
				return parts[0] + " sub " + parts[1] + " to the power " + parts[2]
			}
		case "msqrt":
			return "square root of " + joinChildren(n)
		case "mroot":
			parts := childParts(n)
			if len(parts) == 2 {
				return parts[1] + " root of " + parts[0]
			}
		case "munderover", "munder", "mover":
			parts := childParts(n)
			if len(parts) == 3 {
				return parts[0] + " from " + parts[1] + " to " + parts[2]
			}
			if len(parts) == 2 {
				return parts[0] + " " + parts[1]
			}
		case "mtable":
			return "matrix " + joinChildren(n)
		}
	}
	return joinChildren(n)
}

func joinChildren(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		part := speak(c)
		if part == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func childParts(n *html.Node) []string {
	var parts []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		parts = append(parts, speak(c))
	}
	return parts
}

var spokenOps = map[string]string{
	"+": "plus", "-": "minus", "−": "minus", "=": "equals",
	"×": "times", "*": "times", "·": "times", "⋅": "times",
	"÷": "divided by", "/": "over",
	"<": "less than", ">": "greater than",
	"≤": "less than or equal to", "≥": "greater than or equal to",
	"≠": "not equal to", "≈": "approximately",
	"±": "plus or minus", "→": "approaches",
	"∑": "sum", "∏": "product", "∫": "integral",
	"∞": "infinity", "∂": "partial",
	"π": "pi", "θ": "theta", "α": "alpha", "β": "beta",
	"γ": "gamma", "δ": "delta", "λ": "lambda", "μ": "mu",
	"σ": "sigma", "φ": "phi", "ω": "omega", "Δ": "capital delta",
	"(": "open paren", ")": "close paren",
	",": "comma", "…": "dot dot dot", "⋯": "dot dot dot",
}

func spokenToken(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if spoken, ok := spokenOps[text]; ok {
		return spoken
	}
	// invisible operators render as zero-width code points
	text = strings.Map(func(r rune) rune {
		switch r {
		case '⁡', '⁢', '⁣', '⁤', ' ':
			return -1
		}
		return r
	}, text)
	return text
}

// Command shells out to an external speech engine. The formula goes to
// stdin, the spoken form comes back on stdout. A per-formula timeout
// bounds hung engines.
func Command(path string, args []string, timeout time.Duration) Converter {
	return &commandConverter{path: path, args: args, timeout: timeout}
}

type commandConverter struct {
	path    string
	args    []string
	timeout time.Duration
}

func (c *commandConverter) Spoken(ctx context.Context, latex string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Stdin = strings.NewReader(latex)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("mathspeech: %s: %w (%s)", c.path, err, strings.TrimSpace(stderr.String()))
	}
	spoken := strings.TrimSpace(out.String())
	if spoken == "" {
		return "", fmt.Errorf("mathspeech: %s produced no output", c.path)
	}
	return spoken, nil
}
