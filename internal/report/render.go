package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

// Renderer turns a merged markdown document into a binary report.
type Renderer interface {
	Render(markdown string, w io.Writer) error
}

// PDFOptions configure PDFRenderer.
type PDFOptions struct {
	Title    string
	PageSize string
}

// PDFRenderer converts markdown to HTML with goldmark and lays the HTML out
// as a paginated PDF.
type PDFRenderer struct {
	opts PDFOptions
	md   goldmark.Markdown
}

func NewPDFRenderer(opts PDFOptions) *PDFRenderer {
	if strings.TrimSpace(opts.Title) == "" {
		opts.Title = "Security Audit Report"
	}
	if strings.TrimSpace(opts.PageSize) == "" {
		opts.PageSize = "A4"
	}
	return &PDFRenderer{
		opts: opts,
		md:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// HTML renders markdown to an HTML fragment. Raw HTML in the input is
// omitted.
func (r *PDFRenderer) HTML(markdown string) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PDFRenderer) Render(markdown string, w io.Writer) error {
	fragment, err := r.HTML(markdown)
	if err != nil {
		return err
	}
	doc, err := html.Parse(bytes.NewReader(fragment))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	pdf := fpdf.New("P", "mm", r.opts.PageSize, "")
	pdf.SetTitle(r.opts.Title, true)
	pdf.SetCreator("auditflow", true)
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")

	lay := newLayout(pdf)
	title := lay.tr(r.opts.Title)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-14)
		pdf.SetFont(fontSans, "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 8, fmt.Sprintf("%s - page %d/{nb}", title, pdf.PageNo()), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})
	pdf.AddPage()

	lay.walk(doc)
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("layout pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
