package extract

import (
	"context"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

var exifFieldOut = map[exif.FieldName]string{
	exif.DateTimeOriginal: "date_time_original",
	exif.Make:             "camera_make",
	exif.Model:            "camera_model",
}

func extractImageMetadata(_ context.Context, path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	x, err := exif.Decode(f)
	if err != nil {
		// No EXIF data is common (PNG, screenshots) and not an error condition.
		return map[string]any{}, nil
	}

	meta := map[string]any{}
	for field, outKey := range exifFieldOut {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		val, err := tag.StringVal()
		if err != nil {
			continue
		}
		if field == exif.DateTimeOriginal {
			if iso, ok := normalizeEXIFDate(val); ok {
				val = iso
			}
		}
		meta[outKey] = val
	}
	return meta, nil
}

// normalizeEXIFDate converts EXIF's "YYYY:MM:DD hh:mm:ss" to ISO-8601,
// matching the normalization applied to PDF dates in pdf.go.
func normalizeEXIFDate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 19 || raw[4] != ':' || raw[7] != ':' || raw[10] != ' ' {
		return "", false
	}
	date := raw[0:4] + "-" + raw[5:7] + "-" + raw[8:10]
	return date + "T" + raw[11:19], true
}
