package extract

import (
	"archive/zip"
	"encoding/xml"
)

// ooxmlCoreProps mirrors docProps/core.xml's Dublin Core / extended
// properties, shared by the DOCX extractor (excelize exposes the XLSX
// equivalent directly via GetDocProps).
type ooxmlCoreProps struct {
	Title    string `xml:"title"`
	Subject  string `xml:"subject"`
	Creator  string `xml:"creator"`
	Keywords string `xml:"keywords"`
	Created  string `xml:"created"`
	Modified string `xml:"modified"`
}

func readOOXMLCoreProps(path string) (ooxmlCoreProps, error) {
	var props ooxmlCoreProps

	zr, err := zip.OpenReader(path)
	if err != nil {
		return props, err
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if f.Name != "docProps/core.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return props, err
		}
		defer func() { _ = rc.Close() }()

		if err := xml.NewDecoder(rc).Decode(&props); err != nil {
			return props, err
		}
		return props, nil
	}
	return props, nil
}
