package receipt_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
	"github.com/PStewardYUL/receipt-ai/internal/parser"
	"github.com/PStewardYUL/receipt-ai/internal/receipt"
	"github.com/PStewardYUL/receipt-ai/internal/validate"
)

// slipOCR stands in for the recognizers and always reads the same slip
type slipOCR struct {
	calls int
}

func (s *slipOCR) Extract(context.Context, extraction.Document) extraction.Text {
	s.calls++
	return extraction.Text{
		Text:       "IGA\nMarche Lambert\n2025-02-14 14:32\nSOUS-TOTAL 41,53\nTPS 2,08\nTVQ 4,14\nTOTAL 47,75",
		Provenance: extraction.ProvenanceLocalOCR,
	}
}

var _ = Describe("Integration", func() {
	var (
		db       *receipt.BoltDB
		store    *receipt.LocalStorage
		ocr      *slipOCR
		server   *receipt.Server
		ghServer *ghttp.Server
	)

	upload := func() extraction.Outcome {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "slip.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("jpeg bytes of the IGA slip"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghServer.URL()+"/api/extract", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var outcome extraction.Outcome
		respBody, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(respBody, &outcome)).To(Succeed())
		return outcome
	}

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = receipt.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		store, err = receipt.NewLocalStorage(filepath.Join(tempDir, "inbox"))
		Expect(err).NotTo(HaveOccurred())

		p, err := parser.New(nil, validate.New(validate.DefaultConfig()), parser.DefaultConfig())
		Expect(err).NotTo(HaveOccurred())

		ocr = &slipOCR{}
		service := receipt.NewService(db, store, ocr, p, receipt.DefaultConfig())
		server = receipt.NewServer(service, receipt.NewBatchRunner(service), receipt.BasicAuth{})
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		ghServer.Close()
		db.Close()
	})

	It("extracts an upload, stores it, and reuses the cached text", func() {
		ghServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)

		first := upload()
		Expect(first.Status).To(Equal(extraction.StatusDone))
		Expect(first.Provenance).To(Equal(extraction.ProvenanceLocalOCR))
		Expect(first.Result.Vendor).To(Equal("IGA"))
		Expect(first.Result.Date).To(Equal("2025-02-14"))
		Expect(first.Result.Total).To(Equal(47.75))
		Expect(first.Result.MathValid).To(BeTrue())

		names, err := store.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(ConsistOf(first.DocumentID + "_slip.jpg"))

		resp, err := http.Get(ghServer.URL() + "/api/results/" + first.DocumentID)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		var record receipt.Record
		Expect(json.NewDecoder(resp.Body).Decode(&record)).To(Succeed())
		Expect(record.Outcome.Result.Total).To(Equal(47.75))
		Expect(record.SHA256).To(HaveLen(64))

		second := upload()
		Expect(second.Provenance).To(Equal(extraction.ProvenanceCached))
		Expect(second.Result.Total).To(Equal(47.75))
		Expect(ocr.calls).To(Equal(1))
	})
})
