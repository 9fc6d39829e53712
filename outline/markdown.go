package outline

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// FromMarkdown builds an outline tree from markdown source using a
// goldmark AST walk. It is a convenience input path for callers that do
// not already have a JSON outline; the pipeline itself only ever sees
// the resulting tree.
func FromMarkdown(source []byte) (*Node, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	root := &Node{Tag: TagDocument}
	walkBlocks(doc, source, root)
	if err := root.Validate(); err != nil {
		return nil, err
	}
	return root, nil
}

func walkBlocks(parent ast.Node, source []byte, out *Node) {
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Heading:
			txt := strings.TrimSpace(string(n.Text(source)))
			if txt == "" {
				// Headings rendered from preamble noise carry no text
				// and are dropped here, before the tree is built.
				continue
			}
			out.Children = append(out.Children, &Node{Tag: headingTag(n.Level), Text: txt})
		case *ast.Paragraph:
			out.Children = append(out.Children, paragraphNode(n, source)...)
		case *ast.List:
			list := &Node{Tag: TagL}
			walkListItems(n, source, list)
			out.Children = append(out.Children, list)
		case *ast.FencedCodeBlock:
			out.Children = append(out.Children, &Node{Tag: TagCode, Text: blockLines(n, source)})
		case *ast.CodeBlock:
			out.Children = append(out.Children, &Node{Tag: TagCode, Text: blockLines(n, source)})
		case *ast.Blockquote:
			sect := &Node{Tag: TagSect}
			walkBlocks(n, source, sect)
			out.Children = append(out.Children, sect)
		case *ast.ThematicBreak:
			// no semantic content
		default:
			if child.Type() == ast.TypeBlock {
				walkBlocks(child, source, out)
			}
		}
	}
}

func headingTag(level int) Tag {
	// Levels deeper than 4 are clamped; the standard structure types
	// used downstream stop at H4.
	switch level {
	case 1:
		return TagH1
	case 2:
		return TagH2
	case 3:
		return TagH3
	}
	return TagH4
}

// paragraphNode converts one paragraph. Display math ($$...$$) becomes
// a Formula node, an image-only paragraph becomes a Figure, and inline
// links become Link children of the paragraph node.
func paragraphNode(p *ast.Paragraph, source []byte) []*Node {
	txt := strings.TrimSpace(inlineText(p, source))

	if inner, ok := displayMath(txt); ok {
		return []*Node{{Tag: TagFormula, Text: inner}}
	}

	if img := soleImage(p, source); img != nil {
		alt := strings.TrimSpace(string(img.Text(source)))
		if alt == "" {
			alt = "Figure: " + string(img.Destination)
		}
		return []*Node{{Tag: TagFigure, Alt: alt}}
	}

	if txt == "" {
		return nil
	}
	node := &Node{Tag: TagP, Text: txt}
	for c := p.FirstChild(); c != nil; c = c.NextSibling() {
		if link, ok := c.(*ast.Link); ok {
			node.Children = append(node.Children, &Node{
				Tag:  TagLink,
				Text: strings.TrimSpace(string(link.Text(source))),
				Alt:  string(link.Destination),
			})
		}
	}
	return []*Node{node}
}

func displayMath(txt string) (string, bool) {
	if len(txt) < 4 || !strings.HasPrefix(txt, "$$") || !strings.HasSuffix(txt, "$$") {
		return "", false
	}
	inner := strings.TrimSpace(txt[2 : len(txt)-2])
	return inner, inner != ""
}

func soleImage(p *ast.Paragraph, source []byte) *ast.Image {
	var img *ast.Image
	for c := p.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Image:
			if img != nil {
				return nil
			}
			img = n
		case *ast.Text:
			// surrounding prose means this is a regular paragraph
			if strings.TrimSpace(string(n.Segment.Value(source))) != "" {
				return nil
			}
		default:
			return nil
		}
	}
	return img
}

func walkListItems(list *ast.List, source []byte, out *Node) {
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		li, ok := item.(*ast.ListItem)
		if !ok {
			continue
		}
		node := &Node{Tag: TagLI}
		for c := li.FirstChild(); c != nil; c = c.NextSibling() {
			switch n := c.(type) {
			case *ast.List:
				nested := &Node{Tag: TagL}
				walkListItems(n, source, nested)
				node.Children = append(node.Children, nested)
			default:
				if t := strings.TrimSpace(inlineText(c, source)); t != "" {
					if node.Text != "" {
						node.Text += " "
					}
					node.Text += t
				}
			}
		}
		out.Children = append(out.Children, node)
	}
}

// inlineText flattens the inline content of a block node to plain text,
// joining soft line breaks with spaces.
func inlineText(block ast.Node, source []byte) string {
	var sb strings.Builder
	for c := block.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Text:
			sb.Write(n.Segment.Value(source))
			if n.SoftLineBreak() || n.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.Image:
			// images contribute no running text
		default:
			sb.WriteString(string(c.Text(source)))
		}
	}
	return sb.String()
}

func blockLines(n ast.Node, source []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
	return strings.TrimRight(sb.String(), "\n")
}
