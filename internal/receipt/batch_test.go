package receipt

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

// routedExtractor answers per document name
type routedExtractor struct {
	fakeExtractor
	texts   map[string]extraction.Text
	release chan struct{}
}

func (r *routedExtractor) Extract(ctx context.Context, doc extraction.Document) extraction.Text {
	r.fakeExtractor.Extract(ctx, doc)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
		}
	}
	return r.texts[doc.Name]
}

var _ = Describe("BatchRunner", func() {
	var (
		db        *mockDB
		storage   *mockStorage
		extractor *routedExtractor
		parser    *fakeParser
		service   *Service
		runner    *BatchRunner
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		storage.files["a.jpg"] = []byte("a")
		storage.files["b.pdf"] = []byte("%PDF-1.4 b")
		storage.files["c.png"] = []byte("c")

		extractor = &routedExtractor{texts: map[string]extraction.Text{
			"a.jpg": {Text: slipText, Provenance: extraction.ProvenanceLocalOCR},
			"b.pdf": {Text: slipText, Provenance: extraction.ProvenanceEmbeddedPDF},
			"c.png": {Provenance: extraction.ProvenanceFailed},
		}}
		result := igaResult()
		result.Warnings = []string{"DATE_FROM_OCR:2025-02-14"}
		parser = &fakeParser{result: result}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(db, storage, extractor, parser, DefaultConfig(),
			&mockIDGenerator{id: "run-1"}, &mockTimeSource{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)})
		runner = NewBatchRunner(service)
		runner.Pause = 0
	})

	Describe("Run", func() {
		It("processes every inbox file and counts the outcomes", func() {
			run, err := runner.Run(context.Background(), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(run.ID).To(Equal("run-1"))
			Expect(run.Running).To(BeFalse())
			Expect(run.Stats).To(Equal(Stats{Processed: 3, Receipts: 2, Skipped: 1, Flagged: 2}))
			Expect(db.records).To(HaveKey("b.pdf"))
			Expect(extractor.docs[1].Kind).To(Equal(extraction.KindPDF))
			Expect(db.runs["run-1"].Running).To(BeFalse())
		})

		When("a file cannot be read", func() {
			BeforeEach(func() {
				storage.getErr = errors.New("permission denied")
			})

			It("counts it as an error and carries on", func() {
				run, err := runner.Run(context.Background(), false)
				Expect(err).NotTo(HaveOccurred())
				Expect(run.Stats).To(Equal(Stats{Processed: 3, Errors: 3}))
			})
		})

		When("the inbox cannot be listed", func() {
			BeforeEach(func() {
				storage.listErr = errors.New("no inbox")
			})

			It("fails and releases the permit", func() {
				_, err := runner.Run(context.Background(), false)
				Expect(err).To(MatchError(ContainSubstring("listing inbox")))

				storage.mu.Lock()
				storage.listErr = nil
				storage.mu.Unlock()
				_, err = runner.Run(context.Background(), false)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		When("the batch panics", func() {
			BeforeEach(func() {
				storage.getPanic = true
			})

			It("records the panic and releases the permit", func() {
				run, err := runner.Run(context.Background(), false)
				Expect(err).NotTo(HaveOccurred())
				Expect(run.Running).To(BeFalse())
				Expect(run.Error).To(ContainSubstring("disk on fire"))

				storage.mu.Lock()
				storage.getPanic = false
				storage.mu.Unlock()
				run, err = runner.Run(context.Background(), false)
				Expect(err).NotTo(HaveOccurred())
				Expect(run.Stats.Processed).To(Equal(3))
			})
		})

		When("the context is cancelled", func() {
			It("stops before the next file", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				run, err := runner.Run(ctx, false)
				Expect(err).NotTo(HaveOccurred())
				Expect(run.Stats.Processed).To(BeZero())
				Expect(run.Error).To(Equal(context.Canceled.Error()))
			})
		})
	})

	Describe("Start", func() {
		BeforeEach(func() {
			extractor.release = make(chan struct{})
		})

		It("runs in the background and rejects a second trigger", func() {
			run, err := runner.Start(context.Background(), true)
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Running).To(BeTrue())
			Expect(run.Force).To(BeTrue())

			_, err = runner.Start(context.Background(), false)
			Expect(err).To(MatchError(ErrBatchRunning))
			Expect(runner.Status().Running).To(BeTrue())

			close(extractor.release)
			Eventually(func() bool { return runner.Status().Running }).Should(BeFalse())
			Expect(runner.Status().Stats.Processed).To(Equal(3))

			_, err = runner.Start(context.Background(), false)
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() bool { return runner.Status().Running }).Should(BeFalse())
		})

		It("keeps running after the triggering request ends", func() {
			ctx, cancel := context.WithCancel(context.Background())
			_, err := runner.Start(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			cancel()

			close(extractor.release)
			Eventually(func() bool { return runner.Status().Running }).Should(BeFalse())
			Expect(runner.Status().Error).To(BeEmpty())
			Expect(runner.Status().Stats.Processed).To(Equal(3))
		})
	})
})
