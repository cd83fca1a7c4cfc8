package extract

import (
	"context"
	"strings"

	"github.com/ledongthuc/pdf"
)

func extractPDFText(_ context.Context, path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if i > 1 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(text)
	}
	return buf.String(), nil
}

var pdfInfoFields = map[string]string{
	"Title":        "title",
	"Subject":      "subject",
	"Author":       "author",
	"Keywords":     "keywords",
	"Producer":     "producer",
	"Creator":      "creator",
	"CreationDate": "creation_date",
	"ModDate":      "mod_date",
}

func extractPDFMetadata(_ context.Context, path string) (map[string]any, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	meta := map[string]any{}
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return meta, nil
	}

	for pdfKey, outKey := range pdfInfoFields {
		val := info.Key(pdfKey).Text()
		if val == "" {
			continue
		}
		if pdfKey == "CreationDate" || pdfKey == "ModDate" {
			if iso, ok := normalizePDFDate(val); ok {
				meta[outKey] = iso
				continue
			}
		}
		meta[outKey] = val
	}
	return meta, nil
}

// normalizePDFDate converts "D:YYYYMMDDhhmmss±HH'mm'" (PDF date format) to
// ISO-8601, per spec §4.2.
func normalizePDFDate(raw string) (string, bool) {
	s := strings.TrimPrefix(raw, "D:")
	if len(s) < 14 {
		return "", false
	}
	year, month, day := s[0:4], s[4:6], s[6:8]
	hour, minute, second := s[8:10], s[10:12], s[12:14]

	tz := "Z"
	rest := s[14:]
	if len(rest) >= 1 && (rest[0] == '+' || rest[0] == '-') {
		sign := string(rest[0])
		digits := strings.ReplaceAll(rest[1:], "'", "")
		if len(digits) >= 4 {
			tz = sign + digits[0:2] + ":" + digits[2:4]
		}
	}

	return year + "-" + month + "-" + day + "T" + hour + ":" + minute + ":" + second + tz, true
}
