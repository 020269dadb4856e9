package directory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Lenders")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, v := range rowData {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "lenders.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestParseYAML(t *testing.T) {
	lenders, err := ParseYAML(strings.NewReader(`
lenders:
  - name: " Apex Funding "
    email: subs@apex.test
    cc: [uw@apex.test]
  - name: Beacon Capital
    email: deals@beacon.test
`))
	require.NoError(t, err)
	require.Len(t, lenders, 2)
	assert.Equal(t, "Apex Funding", lenders[0].Name)
	assert.Equal(t, []string{"uw@apex.test"}, lenders[0].CC)
	assert.Equal(t, "deals@beacon.test", lenders[1].Email)
}

func TestParseYAML_Errors(t *testing.T) {
	_, err := ParseYAML(strings.NewReader("lenders:\n  - email: a@b.test\n"))
	assert.Error(t, err)

	_, err = ParseYAML(strings.NewReader("lenders:\n  - name: Apex\n    phone: 555\n"))
	assert.Error(t, err)

	lenders, err := ParseYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, lenders)
}

func TestParseXLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"Name", "Email", "CC"},
		{"Apex Funding", "subs@apex.test", "uw@apex.test; ops@apex.test"},
		{"", "", ""},
		{"Beacon Capital", "deals@beacon.test", ""},
	})

	lenders, err := ParseXLSX(path, "")
	require.NoError(t, err)
	require.Len(t, lenders, 2)
	assert.Equal(t, []string{"uw@apex.test", "ops@apex.test"}, lenders[0].CC)
	assert.Equal(t, "Beacon Capital", lenders[1].Name)
	assert.Empty(t, lenders[1].CC)

	_, err = ParseXLSX(path, "Missing")
	assert.Error(t, err)
}

func TestParseXLSX_MissingColumns(t *testing.T) {
	path := createTestXLSX(t, [][]string{{"Lender", "Address"}, {"Apex", "a@apex.test"}})

	_, err := ParseXLSX(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no name column")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "lenders.yml")
	require.NoError(t, os.WriteFile(yml, []byte("lenders:\n  - name: Apex\n    email: a@apex.test\n"), 0o600))

	lenders, err := Load(yml)
	require.NoError(t, err)
	assert.Len(t, lenders, 1)

	_, err = Load(filepath.Join(dir, "lenders.csv"))
	assert.Error(t, err)
}
