package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	r := NewRegistry()

	text, err := r.Extract(context.Background(), "uploads/notes.txt", []byte("  hello\n\n  world\t!  "))
	require.NoError(t, err)
	assert.Equal(t, "hello world !", text)

	text, err = r.Extract(context.Background(), "uploads/blank.md", []byte(" \n\t "))
	require.NoError(t, err)
	assert.Empty(t, text)

	text, err = r.Extract(context.Background(), "uploads/bytes.bin", []byte("ok\xffok"))
	require.NoError(t, err)
	assert.Equal(t, "okok", text)
}

func TestExtractHTML(t *testing.T) {
	page := `<html><head><title>T</title><style>body{}</style></head>
<body><nav>Menu</nav><main><h1>Guide</h1>
<p>Install   the tool.</p><script>x()</script></main></body></html>`

	text, err := NewRegistry().Extract(context.Background(), "uploads/guide.HTML", []byte(page))
	require.NoError(t, err)
	assert.Equal(t, "Guide Install the tool.", text)

	text, err = NewRegistry().Extract(context.Background(), "uploads/plain.htm", []byte(`<body><p>Only body</p></body>`))
	require.NoError(t, err)
	assert.Equal(t, "Only body", text)
}

func TestExtractPDFRejectsGarbage(t *testing.T) {
	_, err := NewRegistry().Extract(context.Background(), "uploads/broken.pdf", []byte("not a pdf"))
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	r.Register(".DOCX", func([]byte) (string, error) { return "", errors.New("unsupported") })

	_, err := r.Extract(context.Background(), "a.docx", nil)
	assert.ErrorContains(t, err, "unsupported")
}
