package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Text is a piece of paragraph content. Plain pieces are escaped on render,
// Raw pieces are written as is.
type Text struct {
	value string
	raw   bool
}

// Plain returns escaped text.
func Plain(s string) Text { return Text{value: s} }

// Raw returns markup written without escaping.
func Raw(s string) Text { return Text{value: s, raw: true} }

// Paragraph is a list of pieces rendered inside one <p> element.
type Paragraph []Text

// Paragraphs builds a component writing each paragraph as a <p> element,
// one per line.
func Paragraphs(paras ...Paragraph) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		for i, p := range paras {
			if i > 0 {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, "<p>"); err != nil {
				return err
			}
			for _, t := range p {
				s := t.value
				if !t.raw {
					s = templ.EscapeString(s)
				}
				if _, err := io.WriteString(w, s); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, "</p>"); err != nil {
				return err
			}
		}
		return nil
	})
}
