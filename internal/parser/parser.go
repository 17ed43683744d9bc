package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"document-quiz/internal/errs"
	"document-quiz/internal/models"
)

const defaultPageNumber = 1

// SupportedExtensions lists the file types Parse understands.
var SupportedExtensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".ods", ".txt", ".md", ".markdown"}

// Parse extracts the text sections of a document. Pages, slides and sheets
// become separate sections numbered from 1. Formats without pages yield a
// single section on page 1, except markdown which is split per heading.
func Parse(filePath, documentID string) ([]models.Section, error) {
	const op = "parser.Parse"

	ext := strings.ToLower(filepath.Ext(filePath))
	var (
		pages []page
		err   error
	)
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".pptx":
		pages, err = parsePPTX(filePath)
	case ".xlsx":
		pages, err = parseXLSX(filePath)
	case ".xlsm", ".ods":
		pages, err = parseSpreadsheet(filePath)
	case ".txt":
		pages, err = parseText(filePath)
	case ".md", ".markdown":
		pages, err = parseMarkdownFile(filePath)
	default:
		return nil, errs.New(errs.ParseFailed, op, "unsupported file format %q", ext)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ParseFailed, op, err, "failed to parse %s", filepath.Base(filePath))
	}

	filename := filepath.Base(filePath)
	sections := make([]models.Section, 0, len(pages))
	for _, p := range pages {
		text := strings.TrimSpace(p.text)
		if text == "" {
			continue
		}
		sections = append(sections, models.Section{
			Text:       text,
			PageNumber: p.number,
			Filename:   filename,
			DocumentID: documentID,
		})
	}
	log.Debug().Str("file", filename).Int("sections", len(sections)).Msg("Parsed document")
	return sections, nil
}

type page struct {
	number int
	text   string
}

func parsePDF(filePath string) ([]page, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var pages []page
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, page{number: i, text: text})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	paragraphs, err := xmlParagraphs([]byte(r.Editable().GetContent()))
	if err != nil {
		return nil, err
	}
	return []page{{number: defaultPageNumber, text: strings.Join(paragraphs, "\n\n")}}, nil
}

func parsePPTX(filePath string) ([]page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		number int
		file   *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		if n, ok := slideNumber(file.Name); ok {
			slides = append(slides, slide{number: n, file: file})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].number < slides[j].number })

	pages := make([]page, 0, len(slides))
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		paragraphs, err := xmlParagraphs(data)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", s.number, err)
		}
		pages = append(pages, page{number: s.number, text: strings.Join(paragraphs, "\n")})
	}
	return pages, nil
}

// slideNumber parses names like ppt/slides/slide12.xml.
func slideNumber(name string) (int, bool) {
	const prefix, suffix = "ppt/slides/slide", ".xml"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// xmlParagraphs collects the text runs (<w:t>, <a:t>) of an office XML part,
// one string per paragraph (<w:p>, <a:p>).
func xmlParagraphs(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteString("\t")
			case "br":
				current.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(current.String()); s != "" {
					paragraphs = append(paragraphs, s)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		paragraphs = append(paragraphs, s)
	}
	return paragraphs, nil
}

func parseXLSX(filePath string) ([]page, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	pages := make([]page, 0, len(f.Sheets))
	for sheetNum, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = append(pages, page{number: sheetNum + 1, text: sheetText(sheet.Name, rows)})
	}
	return pages, nil
}

func parseSpreadsheet(filePath string) ([]page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		pages = append(pages, page{number: sheetNum + 1, text: sheetText(sheetName, rows)})
	}
	return pages, nil
}

// sheetText renders rows as tab separated lines under a sheet heading.
// Sheets without any cell text render empty.
func sheetText(name string, rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("Sheet: %s\n%s", name, b.String())
}

func parseText(filePath string) ([]page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []page{{number: defaultPageNumber, text: string(data)}}, nil
}
