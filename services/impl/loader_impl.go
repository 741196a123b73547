package impl

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

// Captioner describes images as text. Image files are delegated here and the
// caption is indexed with modality=image.
type Captioner interface {
	Caption(ctx context.Context, path string) (string, error)
}

// Transcriber turns audio into text, indexed with modality=audio.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// documentLoaderImpl dispatches on extension and normalizes every format to
// text records with metadata.
type documentLoaderImpl struct {
	captioner   Captioner
	transcriber Transcriber
}

func NewDocumentLoader(captioner Captioner, transcriber Transcriber) services.DocumentLoader {
	return &documentLoaderImpl{captioner: captioner, transcriber: transcriber}
}

func (l *documentLoaderImpl) SupportedExtensions() []string {
	return []string{".pdf", ".txt", ".md", ".docx", ".doc", ".html", ".htm", ".csv", ".png", ".jpg", ".jpeg", ".mp3", ".wav"}
}

func (l *documentLoaderImpl) Load(ctx context.Context, path string, metadata map[string]any) ([]models.DocumentRecord, error) {
	if err := ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	base := map[string]any{"source": filepath.Base(path)}
	for k, v := range metadata {
		base[k] = v
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md":
		return l.loadPlain(path, base)
	case ".pdf":
		return l.loadPDF(path, base)
	case ".html", ".htm":
		return l.loadHTML(path, base)
	case ".csv":
		return l.loadCSV(path, base)
	case ".docx":
		return l.loadDOCX(path, base)
	case ".doc":
		return l.loadLegacyDoc(path, base)
	case ".png", ".jpg", ".jpeg":
		return l.loadImage(ctx, path, base)
	case ".mp3", ".wav":
		return l.loadAudio(ctx, path, base)
	}
	return nil, ValidationError{Field: "path", Message: fmt.Sprintf("unsupported file type %q", ext)}
}

func textRecord(text string, modality models.Modality, meta map[string]any) models.DocumentRecord {
	return models.DocumentRecord{Text: text, Modality: modality, Metadata: meta}
}

func (l *documentLoaderImpl) loadPlain(path string, meta map[string]any) ([]models.DocumentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("%s contains no text", filepath.Base(path))
	}
	return []models.DocumentRecord{textRecord(text, models.ModalityText, meta)}, nil
}

// loadPDF extracts one record per page so page numbers survive chunking.
func (l *documentLoaderImpl) loadPDF(path string, meta map[string]any) ([]models.DocumentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", filepath.Base(path), err)
	}

	var records []models.DocumentRecord
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		pageMeta := map[string]any{"page_number": i}
		for k, v := range meta {
			pageMeta[k] = v
		}
		records = append(records, textRecord(pageText, models.ModalityText, pageMeta))
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no extractable text in %s", filepath.Base(path))
	}
	return records, nil
}

func (l *documentLoaderImpl) loadHTML(path string, meta map[string]any) ([]models.DocumentRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	article, err := readability.FromReader(f, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html %s: %w", filepath.Base(path), err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, fmt.Errorf("no readable content in %s", filepath.Base(path))
	}
	if article.Title != "" {
		meta["title"] = article.Title
	}
	return []models.DocumentRecord{textRecord(text, models.ModalityText, meta)}, nil
}

// loadCSV renders each row as "header: value" lines; rows stay separate
// records so retrieval can hit individual entries.
func (l *documentLoaderImpl) loadCSV(path string, meta map[string]any) ([]models.DocumentRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header in %s: %w", filepath.Base(path), err)
	}

	var records []models.DocumentRecord
	row := 0
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row in %s: %w", filepath.Base(path), err)
		}
		row++
		var b strings.Builder
		for i, field := range fields {
			if strings.TrimSpace(field) == "" {
				continue
			}
			name := fmt.Sprintf("column_%d", i+1)
			if i < len(header) {
				name = header[i]
			}
			fmt.Fprintf(&b, "%s: %s\n", name, field)
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			continue
		}
		rowMeta := map[string]any{"row_number": row}
		for k, v := range meta {
			rowMeta[k] = v
		}
		records = append(records, textRecord(text, models.ModalityText, rowMeta))
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no data rows in %s", filepath.Base(path))
	}
	return records, nil
}

// docx body text lives in word/document.xml; paragraphs end at </w:p>.
func (l *documentLoaderImpl) loadDOCX(path string, meta map[string]any) ([]models.DocumentRecord, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open docx %s: %w", filepath.Base(path), err)
	}
	defer zr.Close()

	var docXML []byte
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to read document.xml: %w", err)
			}
			docXML, err = io.ReadAll(io.LimitReader(rc, 100<<20))
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read document.xml: %w", err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, fmt.Errorf("%s has no word/document.xml", filepath.Base(path))
	}

	text, err := docxText(docXML)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("no extractable text in %s", filepath.Base(path))
	}
	return []models.DocumentRecord{textRecord(text, models.ModalityText, meta)}, nil
}

func docxText(docXML []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(docXML))
	var b strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			if t.Name.Local == "p" {
				b.WriteString("\n\n")
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// loadLegacyDoc pulls printable runs out of the binary .doc container. Crude,
// but good enough for the text-heavy support documents this handles; callers
// are encouraged to convert to .docx.
func (l *documentLoaderImpl) loadLegacyDoc(path string, meta map[string]any) ([]models.DocumentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var b strings.Builder
	var run []byte
	flush := func() {
		if len(run) >= 20 {
			b.Write(run)
			b.WriteByte('\n')
		}
		run = run[:0]
	}
	for _, c := range data {
		if c == '\r' || c == '\n' || c == '\t' || (c >= 0x20 && c < 0x7f) {
			run = append(run, c)
		} else {
			flush()
		}
	}
	flush()
	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, fmt.Errorf("no extractable text in %s", filepath.Base(path))
	}
	return []models.DocumentRecord{textRecord(text, models.ModalityText, meta)}, nil
}

func (l *documentLoaderImpl) loadImage(ctx context.Context, path string, meta map[string]any) ([]models.DocumentRecord, error) {
	if l.captioner == nil {
		return nil, fmt.Errorf("no captioning provider configured for %s", filepath.Base(path))
	}
	caption, err := l.captioner.Caption(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("captioning failed for %s: %w", filepath.Base(path), err)
	}
	return []models.DocumentRecord{textRecord(caption, models.ModalityImage, meta)}, nil
}

func (l *documentLoaderImpl) loadAudio(ctx context.Context, path string, meta map[string]any) ([]models.DocumentRecord, error) {
	if l.transcriber == nil {
		return nil, fmt.Errorf("no transcription provider configured for %s", filepath.Base(path))
	}
	transcript, err := l.transcriber.Transcribe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("transcription failed for %s: %w", filepath.Base(path), err)
	}
	return []models.DocumentRecord{textRecord(transcript, models.ModalityAudio, meta)}, nil
}
