package document

import (
	"strings"

	"mythweaver/internal/model"
)

// Kind 块类型
type Kind string

const (
	KindHeading    Kind = "heading"
	KindParagraph  Kind = "paragraph"
	KindBulletList Kind = "bullet_list"
	KindDivider    Kind = "divider"
)

// Block 文档块，按Kind只使用对应字段
type Block struct {
	Kind  Kind     `json:"kind"`
	Level int      `json:"level,omitempty"` // 标题级别 1-3
	Text  string   `json:"text,omitempty"`  // 标题/段落文本
	Items []string `json:"items,omitempty"` // 列表项
}

// Document 有序的块列表
type Document struct {
	Blocks []Block `json:"blocks"`
}

func Heading(level int, text string) Block {
	if level < 1 {
		level = 1
	}
	if level > 3 {
		level = 3
	}
	return Block{Kind: KindHeading, Level: level, Text: text}
}

func Paragraph(text string) Block {
	return Block{Kind: KindParagraph, Text: text}
}

func BulletList(items ...string) Block {
	return Block{Kind: KindBulletList, Items: items}
}

func Divider() Block {
	return Block{Kind: KindDivider}
}

// Append 忽略空段落和空列表
func (d *Document) Append(blocks ...Block) {
	for _, b := range blocks {
		switch b.Kind {
		case KindParagraph, KindHeading:
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
		case KindBulletList:
			if len(b.Items) == 0 {
				continue
			}
		}
		d.Blocks = append(d.Blocks, b)
	}
}

// FromStory 把生成结果转成文档：标题、参数、正文（有段落时按段落分节）、3D模型链接
func FromStory(s *model.StoryResult) *Document {
	doc := &Document{}
	if s == nil {
		return doc
	}
	doc.Append(Heading(1, s.Title))

	if p := s.StoryPrompt; p != nil {
		var meta []string
		meta = append(meta, "Mythology: "+p.Mythology)
		if p.Character != "" {
			meta = append(meta, "Character: "+p.Character)
		}
		if p.Theme != "" {
			meta = append(meta, "Theme: "+p.Theme)
		}
		if p.Length != "" {
			meta = append(meta, "Length: "+string(p.Length))
		}
		if s.SavedAt != nil {
			meta = append(meta, "Saved: "+s.SavedAt.Format("2006-01-02 15:04"))
		}
		doc.Append(BulletList(meta...))
	}
	doc.Append(Divider())

	if len(s.StoryArcs) > 0 {
		for _, arc := range s.StoryArcs {
			doc.Append(Heading(2, arc.Title))
			for _, para := range SplitParagraphs(arc.Content) {
				doc.Append(Paragraph(para))
			}
		}
	} else {
		for _, para := range SplitParagraphs(s.Story) {
			doc.Append(Paragraph(para))
		}
	}

	var extras []string
	if s.ImageURL != "" && !strings.HasPrefix(s.ImageURL, "data:") {
		extras = append(extras, "Illustration: "+s.ImageURL)
	}
	if m := s.Model; m != nil && m.Status == model.TaskCompleted {
		if m.ViewerURL != "" {
			extras = append(extras, "3D viewer: "+m.ViewerURL)
		}
		if m.GlbURL != "" {
			extras = append(extras, "3D model (GLB): "+m.GlbURL)
		}
	}
	if len(extras) > 0 {
		doc.Append(Divider(), BulletList(extras...))
	}
	return doc
}

// SplitParagraphs 按空行分段，段内换行合并为空格
func SplitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, chunk := range strings.Split(text, "\n\n") {
		lines := strings.Fields(strings.ReplaceAll(chunk, "\n", " "))
		if len(lines) == 0 {
			continue
		}
		out = append(out, strings.Join(lines, " "))
	}
	return out
}
