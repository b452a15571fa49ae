package llm

import (
	"bytes"
	"fmt"
	"image/png"
	"net/http"

	"github.com/gen2brain/go-fitz"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
	"github.com/PStewardYUL/receipt-ai/internal/imageprep"
)

// pdfToImage renders the first page of a PDF as PNG.
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToPNG re-encodes any decodable image as PNG.
func imageToPNG(data []byte) ([]byte, error) {
	img, err := imageprep.Decode(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// prepareImage returns data in a format both model backends accept, with
// its short format name ("jpeg" or "png"). JPEG and PNG pass through; PDFs
// are rendered and everything else is converted to PNG.
func prepareImage(data []byte) ([]byte, string, error) {
	if extraction.IsPDF(data) {
		out, err := pdfToImage(data)
		if err != nil {
			return nil, "", fmt.Errorf("converting PDF to image: %w", err)
		}
		return out, "png", nil
	}

	switch http.DetectContentType(data) {
	case "image/jpeg":
		return data, "jpeg", nil
	case "image/png":
		return data, "png", nil
	}

	out, err := imageToPNG(data)
	if err != nil {
		return nil, "", fmt.Errorf("converting image to PNG: %w", err)
	}
	return out, "png", nil
}
