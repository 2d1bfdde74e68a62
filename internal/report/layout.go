package report

import (
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"golang.org/x/net/html"
)

const (
	fontSans = "Helvetica"
	fontMono = "Courier"

	bodySize   = 10.5
	lineHeight = 5.5
	indentStep = 6.0
)

var headingSizes = map[string]float64{
	"h1": 18, "h2": 15, "h3": 13, "h4": 12, "h5": 11, "h6": 11,
}

type list struct {
	ordered bool
	next    int
}

// layout walks an HTML tree and writes it into a PDF. Text is flowed with
// Write so inline styles can change mid-line.
type layout struct {
	pdf    *fpdf.Fpdf
	tr     func(string) string
	left   float64
	bold   int
	italic int
	mono   int
	size   float64
	lists  []list
}

func newLayout(pdf *fpdf.Fpdf) *layout {
	left, _, _, _ := pdf.GetMargins()
	l := &layout{
		pdf:  pdf,
		tr:   pdf.UnicodeTranslatorFromDescriptor(""),
		left: left,
		size: bodySize,
	}
	l.applyFont()
	return l
}

func (l *layout) applyFont() {
	family := fontSans
	if l.mono > 0 {
		family = fontMono
	}
	style := ""
	if l.bold > 0 {
		style += "B"
	}
	if l.italic > 0 {
		style += "I"
	}
	size := l.size
	if l.mono > 0 {
		size--
	}
	l.pdf.SetFont(family, style, size)
}

// breakLine ends the current line if anything was written on it.
func (l *layout) breakLine() {
	if l.pdf.GetX() > l.margin()+0.01 {
		l.pdf.Ln(lineHeight)
	}
}

func (l *layout) margin() float64 {
	left, _, _, _ := l.pdf.GetMargins()
	return left
}

func (l *layout) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		l.text(n.Data)
		return
	case html.ElementNode:
		if l.element(n) {
			return
		}
	}
	l.children(n)
}

func (l *layout) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		l.walk(c)
	}
}

func (l *layout) text(s string) {
	s = collapseSpace(s)
	if s == "" {
		return
	}
	if l.pdf.GetX() <= l.margin()+0.01 {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			return
		}
	}
	l.pdf.Write(lineHeight, l.tr(s))
}

// element handles n and reports whether its children were consumed.
func (l *layout) element(n *html.Node) bool {
	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		l.breakLine()
		l.pdf.Ln(2)
		l.size = headingSizes[n.Data]
		l.bold++
		l.applyFont()
		l.pdf.Write(lineHeight+2, l.tr(strings.TrimSpace(textContent(n))))
		l.bold--
		l.size = bodySize
		l.applyFont()
		l.pdf.Ln(lineHeight + 3)
		return true
	case "p":
		l.breakLine()
		l.children(n)
		l.pdf.Ln(lineHeight + 2)
		return true
	case "br":
		l.pdf.Ln(lineHeight)
		return true
	case "hr":
		l.breakLine()
		y := l.pdf.GetY() + 2
		w, _ := l.pdf.GetPageSize()
		_, _, right, _ := l.pdf.GetMargins()
		l.pdf.SetDrawColor(180, 180, 180)
		l.pdf.Line(l.left, y, w-right, y)
		l.pdf.SetDrawColor(0, 0, 0)
		l.pdf.Ln(6)
		return true
	case "strong", "b":
		l.bold++
		l.applyFont()
		l.children(n)
		l.bold--
		l.applyFont()
		return true
	case "em", "i":
		l.italic++
		l.applyFont()
		l.children(n)
		l.italic--
		l.applyFont()
		return true
	case "code":
		l.mono++
		l.applyFont()
		l.children(n)
		l.mono--
		l.applyFont()
		return true
	case "a":
		href := attr(n, "href")
		label := collapseSpace(textContent(n))
		if href == "" || label == "" {
			l.children(n)
			return true
		}
		l.pdf.SetTextColor(20, 80, 160)
		l.pdf.WriteLinkString(lineHeight, l.tr(label), href)
		l.pdf.SetTextColor(0, 0, 0)
		return true
	case "pre":
		l.pre(n)
		return true
	case "ul", "ol":
		l.breakLine()
		l.lists = append(l.lists, list{ordered: n.Data == "ol", next: 1})
		l.indent()
		l.children(n)
		l.lists = l.lists[:len(l.lists)-1]
		l.indent()
		l.breakLine()
		if len(l.lists) == 0 {
			l.pdf.Ln(2)
		}
		return true
	case "li":
		l.item(n)
		return true
	case "blockquote":
		l.breakLine()
		l.italic++
		l.applyFont()
		l.pdf.SetLeftMargin(l.margin() + indentStep)
		l.pdf.SetX(l.margin())
		l.children(n)
		l.pdf.SetLeftMargin(l.margin() - indentStep)
		l.italic--
		l.applyFont()
		l.breakLine()
		return true
	case "table":
		l.table(n)
		return true
	case "script", "style", "head", "title":
		return true
	}
	return false
}

func (l *layout) indent() {
	l.pdf.SetLeftMargin(l.left + float64(len(l.lists))*indentStep)
	l.pdf.SetX(l.margin())
}

func (l *layout) item(n *html.Node) {
	l.breakLine()
	marker := "- "
	if depth := len(l.lists); depth > 0 {
		cur := &l.lists[depth-1]
		if cur.ordered {
			marker = strconv.Itoa(cur.next) + ". "
			cur.next++
		}
	}
	l.pdf.Write(lineHeight, marker)
	l.children(n)
	l.breakLine()
}

func (l *layout) pre(n *html.Node) {
	l.breakLine()
	body := strings.TrimRight(textContent(n), "\n")
	l.mono++
	l.applyFont()
	l.pdf.SetFillColor(244, 244, 244)
	l.pdf.MultiCell(0, lineHeight-0.8, l.tr(strings.ReplaceAll(body, "\t", "    ")), "", "L", true)
	l.mono--
	l.applyFont()
	l.pdf.Ln(2)
}

// table renders each row as a line of pipe-separated cells. Header cells are
// bold.
func (l *layout) table(n *html.Node) {
	l.breakLine()
	var rows [][]string
	var header []bool
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		if c.Type == html.ElementNode && c.Data == "tr" {
			var cells []string
			isHead := false
			for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
				if cell.Type != html.ElementNode || (cell.Data != "td" && cell.Data != "th") {
					continue
				}
				isHead = isHead || cell.Data == "th"
				cells = append(cells, collapseSpace(strings.TrimSpace(textContent(cell))))
			}
			rows = append(rows, cells)
			header = append(header, isHead)
			return
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			visit(cc)
		}
	}
	visit(n)

	for i, cells := range rows {
		if header[i] {
			l.bold++
			l.applyFont()
		}
		l.pdf.MultiCell(0, lineHeight, l.tr(strings.Join(cells, "  |  ")), "B", "L", false)
		if header[i] {
			l.bold--
			l.applyFont()
		}
	}
	l.pdf.Ln(2)
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			visit(cc)
		}
	}
	visit(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapseSpace(s string) string {
	if s == "" {
		return ""
	}
	fields := strings.Fields(s)
	out := strings.Join(fields, " ")
	if out == "" {
		return " "
	}
	if isSpace(s[0]) {
		out = " " + out
	}
	if isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
