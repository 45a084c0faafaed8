package ingest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/theftclaim-api/internal/models"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIntakeSubmitOutcomes(t *testing.T) {
	intake := NewIntake(IntakeConfig{}, nil)
	oversize := newMemFile([]byte("x"))
	tickets := intake.Submit([]RawFile{
		rawFile("photo.png", "image/png", encodePNG(t, 2, 3)),
		{Name: "huge.png", ContentType: "image/png", Size: 60 * 1024 * 1024, Content: oversize},
		rawFile("archive.zip", "application/zip", []byte("PK")),
		rawFile("notes.txt", "text/plain", []byte("stolen bicycle")),
		{Name: "ghost.pdf", ContentType: "application/pdf", Size: 10},
	})
	require.Len(t, tickets, 5)

	photo := tickets[0]
	assert.Equal(t, models.TicketStatePending, photo.State)
	assert.Equal(t, models.EvidenceCategoryPhoto, photo.Category)
	assert.Equal(t, 0, photo.Progress)
	require.NotNil(t, photo.Preview)
	assert.Equal(t, 2, photo.Preview.Width)
	assert.Equal(t, 3, photo.Preview.Height)
	assert.Equal(t, "png", photo.Preview.Format)
	assert.True(t, strings.HasPrefix(photo.Preview.DataURI, "data:image/png;base64,"))

	huge := tickets[1]
	assert.Equal(t, models.TicketStateRejected, huge.State)
	assert.Equal(t, ReasonFileTooLarge, huge.ErrorReason)
	assert.True(t, oversize.closed.Load(), "rejected tickets release their source")

	zip := tickets[2]
	assert.Equal(t, models.TicketStateRejected, zip.State)
	assert.Equal(t, "unsupported file type: application/zip", zip.ErrorReason)

	notes := tickets[3]
	assert.Equal(t, models.TicketStatePending, notes.State)
	assert.Equal(t, models.EvidenceCategoryDocument, notes.Category)
	assert.Nil(t, notes.Preview)

	ghost := tickets[4]
	assert.Equal(t, models.TicketStateRejected, ghost.State)
	assert.Equal(t, ReasonMissingContent, ghost.ErrorReason)

	ids := map[string]struct{}{}
	for _, ticket := range tickets {
		ids[ticket.ID] = struct{}{}
	}
	assert.Len(t, ids, len(tickets))
}

func TestIntakePreviewFailureDoesNotReject(t *testing.T) {
	intake := NewIntake(IntakeConfig{}, nil)
	src := newMemFile([]byte("definitely not a jpeg"))
	tickets := intake.Submit([]RawFile{{Name: "broken.jpg", ContentType: "image/jpeg", Size: 21, Content: src}})

	require.Len(t, tickets, 1)
	assert.Equal(t, models.TicketStatePending, tickets[0].State)
	assert.Nil(t, tickets[0].Preview)
	assert.False(t, src.closed.Load())
	pos, err := src.Seek(0, 1)
	require.NoError(t, err)
	assert.Zero(t, pos, "source is rewound after preview")
}

func TestIntakePreviewSkipsInlineAboveLimit(t *testing.T) {
	data := encodePNG(t, 4, 4)
	intake := NewIntake(IntakeConfig{PreviewMaxBytes: int64(len(data) - 1)}, nil)
	tickets := intake.Submit([]RawFile{rawFile("big.png", "image/png", data)})

	require.NotNil(t, tickets[0].Preview)
	assert.Equal(t, 4, tickets[0].Preview.Width)
	assert.Empty(t, tickets[0].Preview.DataURI)
}

func TestIntakeMeasuresUnknownSize(t *testing.T) {
	intake := NewIntake(IntakeConfig{}, nil)
	tickets := intake.Submit([]RawFile{{Name: "a.txt", ContentType: "text/plain", Content: newMemFile([]byte("hello"))}})

	assert.Equal(t, int64(5), tickets[0].ByteSize)
	assert.Equal(t, models.TicketStatePending, tickets[0].State)
}
