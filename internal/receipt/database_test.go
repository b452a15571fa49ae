package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("text cache", func() {
		When("the hash is cached", func() {
			BeforeEach(func() {
				Expect(db.SaveText("abc", "IGA\nTOTAL 4,99")).To(Succeed())
			})

			It("returns the text", func() {
				text, err := db.GetText("abc")
				Expect(err).NotTo(HaveOccurred())
				Expect(text).To(Equal("IGA\nTOTAL 4,99"))
			})

			It("overwrites on save", func() {
				Expect(db.SaveText("abc", "METRO")).To(Succeed())
				text, err := db.GetText("abc")
				Expect(err).NotTo(HaveOccurred())
				Expect(text).To(Equal("METRO"))
			})
		})

		When("the hash is unknown", func() {
			It("returns ErrNotFound", func() {
				_, err := db.GetText("missing")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("records", func() {
		var record *Record

		BeforeEach(func() {
			record = &Record{
				ID:          "doc-1",
				Filename:    "doc-1_slip.jpg",
				ContentType: "image/jpeg",
				SHA256:      "abc",
				Outcome: extraction.Outcome{
					DocumentID: "doc-1",
					Status:     extraction.StatusDone,
					Provenance: extraction.ProvenanceLocalOCR,
					Result: &extraction.Result{
						IsReceipt: true,
						Vendor:    "IGA",
						Total:     47.75,
						Currency:  "CAD",
						Warnings:  []string{},
					},
				},
				Review:    []string{"missing_date"},
				CreatedAt: time.Date(2025, 2, 14, 14, 32, 0, 0, time.UTC),
			}
			Expect(db.SaveRecord(record)).To(Succeed())
		})

		It("round-trips a record", func() {
			saved, err := db.GetRecord("doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.Outcome.Result.Vendor).To(Equal("IGA"))
			Expect(saved.Outcome.Provenance).To(Equal(extraction.ProvenanceLocalOCR))
			Expect(saved.Review).To(Equal([]string{"missing_date"}))
			Expect(saved.CreatedAt.Equal(record.CreatedAt)).To(BeTrue())
		})

		It("lists records", func() {
			Expect(db.SaveRecord(&Record{ID: "doc-2"})).To(Succeed())
			records, err := db.ListRecords()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
		})

		It("returns ErrNotFound for an unknown ID", func() {
			_, err := db.GetRecord("doc-9")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("batch runs", func() {
		It("saves and lists runs", func() {
			Expect(db.SaveBatchRun(&BatchRun{ID: "run-1", Stats: Stats{Processed: 3, Receipts: 2}})).To(Succeed())
			Expect(db.SaveBatchRun(&BatchRun{ID: "run-1", Stats: Stats{Processed: 4, Receipts: 2}})).To(Succeed())

			runs, err := db.ListBatchRuns()
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(1))
			Expect(runs[0].Stats.Processed).To(Equal(4))
		})
	})

	Describe("NewBoltDB", func() {
		When("the file is already open", func() {
			It("times out", func() {
				_, err := NewBoltDB(dbPath)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("opening boltdb"))
			})
		})
	})
})
