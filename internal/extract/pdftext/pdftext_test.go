package pdftext

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTextRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	_, err := Text(nil)
	require.Error(t, err)
}

func TestTextRejectsNonPDF(t *testing.T) {
	t.Parallel()

	_, err := Text([]byte("<html><body>not a pdf</body></html>"))
	require.Error(t, err)
}
