package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// maxPartSize bounds one decompressed XML part.
const maxPartSize = 32 << 20

// partSelector lists the archive parts holding text, in reading order.
type partSelector func(names []string) []string

// xmlRule names the elements whose character data is text and the elements
// that end a paragraph.
type xmlRule struct {
	text      map[string]bool
	paragraph map[string]bool
}

var (
	ooxmlText = xmlRule{
		text:      map[string]bool{"t": true},
		paragraph: map[string]bool{"p": true},
	}
	// ODF keeps text directly inside paragraphs, headings and spans.
	odfText = xmlRule{
		text:      map[string]bool{"p": true, "h": true, "span": true, "a": true},
		paragraph: map[string]bool{"p": true, "h": true},
	}
)

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func docxParts(names []string) []string {
	var headers, footers []string
	parts := []string{}
	for _, name := range names {
		switch {
		case name == "word/document.xml":
			parts = append(parts, name)
		case strings.HasPrefix(name, "word/header") && path.Ext(name) == ".xml":
			headers = append(headers, name)
		case strings.HasPrefix(name, "word/footer") && path.Ext(name) == ".xml":
			footers = append(footers, name)
		}
	}
	sort.Strings(headers)
	sort.Strings(footers)
	return append(append(headers, parts...), footers...)
}

func pptxParts(names []string) []string {
	type slide struct {
		name string
		n    int
	}
	var slides []slide
	for _, name := range names {
		m := slidePattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{name: name, n: n})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	out := make([]string, len(slides))
	for i, s := range slides {
		out[i] = s.name
	}
	return out
}

func odfParts(names []string) []string {
	for _, name := range names {
		if name == "content.xml" {
			return []string{name}
		}
	}
	return nil
}

// zipText reads the text of an office document stored as a zip of XML parts.
func zipText(selectParts partSelector, rule xmlRule) textReader {
	return func(data []byte) (string, error) {
		archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return "", fmt.Errorf("extract: open document: %w", err)
		}
		files := make(map[string]*zip.File, len(archive.File))
		names := make([]string, 0, len(archive.File))
		for _, f := range archive.File {
			files[f.Name] = f
			names = append(names, f.Name)
		}
		parts := selectParts(names)
		if len(parts) == 0 {
			return "", errors.New("extract: document has no text parts")
		}
		var out strings.Builder
		for _, name := range parts {
			if err := readPart(files[name], rule, &out); err != nil {
				return "", fmt.Errorf("extract: %s: %w", name, err)
			}
		}
		return strings.TrimSpace(out.String()), nil
	}
}

func readPart(f *zip.File, rule xmlRule, out *strings.Builder) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	decoder := xml.NewDecoder(io.LimitReader(rc, maxPartSize))
	depth := 0
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if rule.text[t.Name.Local] {
				depth++
			}
		case xml.EndElement:
			if rule.text[t.Name.Local] && depth > 0 {
				depth--
			}
			if rule.paragraph[t.Name.Local] {
				out.WriteByte('\n')
			}
		case xml.CharData:
			if depth > 0 {
				out.Write(t)
			}
		}
	}
}
