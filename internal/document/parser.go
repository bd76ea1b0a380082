package document

import (
	"regexp"
	"strings"
)

var (
	// HeadingRegex "# 标题" 到 "### 标题"
	HeadingRegex = regexp.MustCompile(`^(#{1,3})\s+(.+)`)

	// DividerRegex "---" / "***" / "___"
	DividerRegex = regexp.MustCompile(`^(-{3,}|\*{3,}|_{3,})$`)

	// BulletRegex "- 项" 或 "* 项"
	BulletRegex = regexp.MustCompile(`^[-*]\s+(.+)`)
)

// Parse 逐行解析模型返回的类markdown文本
func Parse(input string) *Document {
	doc := &Document{}
	var para []string
	var items []string

	flush := func() {
		if len(para) > 0 {
			doc.Append(Paragraph(strings.Join(para, " ")))
			para = nil
		}
		if len(items) > 0 {
			doc.Append(BulletList(items...))
			items = nil
		}
	}

	for _, line := range strings.Split(strings.ReplaceAll(input, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}

		if m := HeadingRegex.FindStringSubmatch(trimmed); m != nil {
			flush()
			doc.Append(Heading(len(m[1]), strings.TrimSpace(m[2])))
			continue
		}

		// 分隔线要在列表项之前判断
		if DividerRegex.MatchString(trimmed) {
			flush()
			doc.Append(Divider())
			continue
		}

		if m := BulletRegex.FindStringSubmatch(trimmed); m != nil {
			if len(para) > 0 {
				flush()
			}
			items = append(items, strings.TrimSpace(m[1]))
			continue
		}

		if len(items) > 0 {
			flush()
		}
		para = append(para, trimmed)
	}
	flush()
	return doc
}
