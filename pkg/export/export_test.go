package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"Ticket", "File", "State"},
		Rows: []map[string]string{
			{"Ticket": "t-1", "File": "front.png", "State": "COMPLETED"},
			{"Ticket": "t-2", "File": strings.Repeat("very-long-file-name-", 20) + ".pdf", "State": "FAILED"},
		},
		Notes: []string{"Total 2: 1 completed, 1 failed"},
	}
}

func TestCSVExporterRender(t *testing.T) {
	data, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Ticket,File,State", lines[0])
	assert.Equal(t, "t-1,front.png,COMPLETED", lines[1])
	assert.NotContains(t, string(data), "Total 2")

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestCSVExporterNeutralisesFormulas(t *testing.T) {
	data, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"File", "Size"},
		Rows: []map[string]string{
			{"File": "=HYPERLINK(\"http://x\")", "Size": "12"},
			{"File": "@receipt.pdf", "Size": "-"},
			{"File": "photo-1.jpg", "Size": "1024"},
		},
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `"'=HYPERLINK(""http://x"")",12`, lines[1])
	assert.Equal(t, "'@receipt.pdf,'-", lines[2])
	assert.Equal(t, "photo-1.jpg,1024", lines[3])
}

func TestPDFExporterRender(t *testing.T) {
	data, err := NewPDFExporter().Render(sampleDataset(), "Evidence batch")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	_, err = NewPDFExporter().Render(Dataset{}, "")
	assert.Error(t, err)
}
