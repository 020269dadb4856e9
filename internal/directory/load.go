// Package directory loads lender directory files for import.
package directory

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mca-router/internal/model"
)

// File is the YAML layout of a lender directory.
type File struct {
	Lenders []model.Lender `yaml:"lenders"`
}

// Load reads lenders from a .yaml, .yml or .xlsx file.
func Load(path string) ([]model.Lender, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "directory: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ParseYAML(f)
	case ".xlsx":
		return ParseXLSX(path, "")
	default:
		return nil, eris.Errorf("directory: unsupported file type %q", filepath.Ext(path))
	}
}

// ParseYAML decodes a lender directory document. Unknown keys are
// rejected.
func ParseYAML(r io.Reader) ([]model.Lender, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "directory: decode yaml")
	}
	return clean(f.Lenders)
}

// ParseXLSX reads lenders from a sheet whose first row is a header with
// name, email and optionally cc columns. cc cells hold comma or semicolon
// separated addresses. An empty sheetName reads the first sheet.
func ParseXLSX(path, sheetName string) ([]model.Lender, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "directory: open xlsx")
	}
	sheet, err := getSheet(f, sheetName)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	cols := map[string]int{}
	for i, h := range rowToStrings(sheet.Rows[0]) {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	nameCol, ok := cols["name"]
	if !ok {
		return nil, eris.New("directory: xlsx header has no name column")
	}
	emailCol, ok := cols["email"]
	if !ok {
		return nil, eris.New("directory: xlsx header has no email column")
	}
	ccCol, hasCC := cols["cc"]

	var lenders []model.Lender
	for _, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		l := model.Lender{Name: cell(cells, nameCol), Email: cell(cells, emailCol)}
		if hasCC {
			l.CC = splitList(cell(cells, ccCol))
		}
		if l.Name == "" && l.Email == "" {
			continue
		}
		lenders = append(lenders, l)
	}
	return clean(lenders)
}

func clean(in []model.Lender) ([]model.Lender, error) {
	out := make([]model.Lender, 0, len(in))
	for i, l := range in {
		l.Name = strings.TrimSpace(l.Name)
		l.Email = strings.TrimSpace(l.Email)
		if l.Name == "" {
			return nil, eris.Errorf("directory: lender %d has no name", i+1)
		}
		out = append(out, l)
	}
	return out, nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("directory: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("directory: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, c := range row.Cells {
		cells[j] = c.String()
	}
	return cells
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return strings.TrimSpace(cells[i])
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
