package extract

import (
	"context"
	"strings"

	"github.com/xuri/excelize/v2"
)

func extractXLSXText(_ context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var buf strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " "))
			if line == "" {
				continue
			}
			if buf.Len() > 0 {
				buf.WriteString("\n")
			}
			buf.WriteString(line)
		}
	}
	return buf.String(), nil
}

func extractXLSXMetadata(_ context.Context, path string) (map[string]any, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return map[string]any{}, nil
	}
	defer func() { _ = f.Close() }()

	props, err := f.GetDocProps()
	if err != nil || props == nil {
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
