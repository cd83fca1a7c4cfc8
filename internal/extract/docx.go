package extract

import (
	"context"
	"os"
	"strings"

	"github.com/fumiama/go-docx"
)

func extractDOCXText(_ context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	doc, err := docx.Parse(f, info.Size())
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		text := docxParagraphText(para)
		if text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(text)
	}
	return buf.String(), nil
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

// extractDOCXMetadata reads docProps/core.xml's Dublin Core fields. go-docx
// does not expose core properties directly, so the OOXML package is walked
// via its embedded zip reader.
func extractDOCXMetadata(_ context.Context, path string) (map[string]any, error) {
	props, err := readOOXMLCoreProps(path)
	if err != nil {
		return map[string]any{}, nil
	}
	meta := map[string]any{}
	if props.Title != "" {
		meta["title"] = props.Title
	}
	if props.Subject != "" {
		meta["subject"] = props.Subject
	}
	if props.Creator != "" {
		meta["author"] = props.Creator
	}
	if props.Keywords != "" {
		meta["keywords"] = props.Keywords
	}
	if props.Created != "" {
		meta["creation_date"] = props.Created
	}
	if props.Modified != "" {
		meta["mod_date"] = props.Modified
	}
	return meta, nil
}
