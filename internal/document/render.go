package document

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Markdown 渲染成markdown文本
func Markdown(doc *Document) string {
	var b strings.Builder
	for i, blk := range doc.Blocks {
		if i > 0 {
			b.WriteString("\n")
		}
		switch blk.Kind {
		case KindHeading:
			b.WriteString(strings.Repeat("#", blk.Level) + " " + blk.Text + "\n")
		case KindParagraph:
			b.WriteString(blk.Text + "\n")
		case KindBulletList:
			for _, it := range blk.Items {
				b.WriteString("- " + it + "\n")
			}
		case KindDivider:
			b.WriteString("---\n")
		}
	}
	return b.String()
}

// 终端配色
var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	sectionColor = color.New(color.FgYellow, color.Bold)
	bulletColor  = color.New(color.FgMagenta)
	dividerColor = color.New(color.FgBlue)
)

// RenderANSI 彩色输出到终端，width为段落折行宽度，<=0不折行
func RenderANSI(w io.Writer, doc *Document, width int) error {
	for _, blk := range doc.Blocks {
		var err error
		switch blk.Kind {
		case KindHeading:
			c := sectionColor
			if blk.Level == 1 {
				c = titleColor
			}
			_, err = c.Fprintln(w, blk.Text)
		case KindParagraph:
			_, err = fmt.Fprintln(w, wrap(blk.Text, width))
		case KindBulletList:
			for _, it := range blk.Items {
				if _, err = bulletColor.Fprint(w, "  • "); err != nil {
					return err
				}
				if _, err = fmt.Fprintln(w, it); err != nil {
					return err
				}
			}
		case KindDivider:
			_, err = dividerColor.Fprintln(w, strings.Repeat("─", 40))
		}
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func wrap(text string, width int) string {
	if width <= 0 {
		return text
	}
	var b strings.Builder
	lineLen := 0
	for i, word := range strings.Fields(text) {
		n := len([]rune(word))
		if i > 0 {
			if lineLen+1+n > width {
				b.WriteString("\n")
				lineLen = 0
			} else {
				b.WriteString(" ")
				lineLen++
			}
		}
		b.WriteString(word)
		lineLen += n
	}
	return b.String()
}
