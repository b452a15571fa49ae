package receipt

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

func multipartBody(filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *fakeExtractor
		service     *Service
		runner      *BatchRunner
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = &fakeExtractor{text: extraction.Text{Text: slipText, Provenance: extraction.ProvenanceLocalOCR}}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(db, storage, extractor, &fakeParser{result: igaResult()}, DefaultConfig(),
			&mockIDGenerator{id: "test-id-123"}, &mockTimeSource{now: time.Date(2025, 2, 14, 15, 0, 0, 0, time.UTC)})
		service.WithEngines(fakeEngine{"tesseract", true}, fakeEngine{"vision", false})
		runner = NewBatchRunner(service)
		runner.Pause = 0
		server = NewServerWithMux(service, runner, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("POST /api/extract", func() {
		var (
			filename string
			data     []byte
			fields   map[string]string
			resp     *http.Response
		)

		BeforeEach(func() {
			filename = "slip.pdf"
			data = []byte("%PDF-1.4 slip")
			fields = nil
		})

		JustBeforeEach(func() {
			body, contentType := multipartBody(filename, data, fields)
			var err error
			resp, err = http.Post(ghttpServer.URL()+"/api/extract", contentType, body)
			Expect(err).NotTo(HaveOccurred())
		})

		When("a file is uploaded", func() {
			It("returns the outcome", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))

				var outcome extraction.Outcome
				decodeBody(resp, &outcome)
				Expect(outcome.Status).To(Equal(extraction.StatusDone))
				Expect(outcome.DocumentID).To(Equal("test-id-123"))
				Expect(outcome.Provenance).To(Equal(extraction.ProvenanceLocalOCR))
				Expect(outcome.Result.Total).To(Equal(47.75))
			})

			It("guesses the kind from the file name", func() {
				resp.Body.Close()
				Expect(extractor.docs[0].Kind).To(Equal(extraction.KindPDF))
				Expect(storage.files).To(HaveKey("test-id-123_slip.pdf"))
			})
		})

		When("force is requested and the text is cached", func() {
			BeforeEach(func() {
				fields = map[string]string{"force": "true"}
				db.texts[contentHash(data)] = "cached"
			})

			It("recognizes the document again", func() {
				resp.Body.Close()
				Expect(extractor.calls()).To(Equal(1))
			})
		})

		When("no file is sent", func() {
			BeforeEach(func() {
				filename = ""
			})

			It("returns Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				decodeBody(resp, &body)
				Expect(body).To(HaveKeyWithValue("error", "No file provided"))
			})
		})

		When("the file is empty", func() {
			BeforeEach(func() {
				data = nil
			})

			It("returns Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the inbox cannot be written", func() {
			BeforeEach(func() {
				storage.saveErr = io.ErrShortWrite
			})

			It("returns Internal Server Error", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("GET /api/results/{id}", func() {
		When("the record exists", func() {
			BeforeEach(func() {
				result := igaResult()
				db.records["doc-1"] = &Record{ID: "doc-1", Outcome: extraction.Outcome{DocumentID: "doc-1", Status: extraction.StatusDone, Result: &result}}
			})

			It("returns it", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/results/doc-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var record Record
				decodeBody(resp, &record)
				Expect(record.Outcome.Result.Vendor).To(Equal("IGA"))
			})
		})

		When("the record does not exist", func() {
			It("returns Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/results/doc-9")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("GET /api/results", func() {
		It("returns an empty array when nothing is stored", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/results")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var records []*Record
			decodeBody(resp, &records)
			Expect(records).NotTo(BeNil())
			Expect(records).To(BeEmpty())
		})
	})

	Describe("POST /api/batch", func() {
		BeforeEach(func() {
			storage.files["a.jpg"] = []byte("a")
		})

		It("starts a batch", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/batch?force=true", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			var run BatchRun
			decodeBody(resp, &run)
			Expect(run.Running).To(BeTrue())
			Expect(run.Force).To(BeTrue())
			Eventually(func() int { return runner.Status().Stats.Processed }).Should(Equal(1))
		})

		When("a batch is running", func() {
			JustBeforeEach(func() {
				Expect(runner.sem.TryAcquire(1)).To(BeTrue())
			})

			It("returns Conflict", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/batch", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				resp.Body.Close()
			})
		})
	})

	Describe("GET /api/batch", func() {
		It("returns the idle status", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/batch")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var run BatchRun
			decodeBody(resp, &run)
			Expect(run.Running).To(BeFalse())
		})
	})

	Describe("GET /api/batch/history", func() {
		BeforeEach(func() {
			db.runs["old"] = &BatchRun{ID: "old", Started: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
			db.runs["new"] = &BatchRun{ID: "new", Started: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
		})

		It("lists stored runs newest first", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/batch/history")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var runs []BatchRun
			decodeBody(resp, &runs)
			Expect(runs).To(HaveLen(2))
			Expect(runs[0].ID).To(Equal("new"))
			Expect(runs[1].ID).To(Equal("old"))
		})
	})

	Describe("GET /healthz", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("reports engines without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body struct {
				Status  string          `json:"status"`
				Engines map[string]bool `json:"engines"`
			}
			decodeBody(resp, &body)
			Expect(body.Status).To(Equal("ok"))
			Expect(body.Engines).To(Equal(map[string]bool{"tesseract": true, "vision": false}))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/results")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			resp.Body.Close()
		})

		It("rejects a wrong password", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/results", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "guess")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/results", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("CORS preflight", func() {
		It("answers OPTIONS with No Content", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/extract", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
			resp.Body.Close()
		})
	})
})
