package receipt

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		dir   string
		inbox *LocalStorage
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		var err error
		inbox, err = NewLocalStorage(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name  string
			saved string
			err   error
		)

		BeforeEach(func() {
			name = "doc-1_slip.jpg"
		})

		JustBeforeEach(func() {
			saved, err = inbox.Save(name, []byte("jpeg bytes"))
		})

		It("writes the file under its name", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(saved).To(Equal(name))
			Expect(os.ReadFile(filepath.Join(dir, name))).To(Equal([]byte("jpeg bytes")))
		})

		It("leaves no temporary file behind", func() {
			entries, readErr := os.ReadDir(dir)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})

		When("the file already exists", func() {
			BeforeEach(func() {
				Expect(os.WriteFile(filepath.Join(dir, name), []byte("old"), 0644)).To(Succeed())
			})

			It("replaces it", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(os.ReadFile(filepath.Join(dir, name))).To(Equal([]byte("jpeg bytes")))
			})
		})

		DescribeTable("rejects names outside the flat inbox",
			func(bad string) {
				_, saveErr := inbox.Save(bad, []byte("x"))
				Expect(saveErr).To(MatchError(ErrInvalidName))
			},
			Entry("empty", ""),
			Entry("hidden", ".upload-123"),
			Entry("parent directory", "../escape.jpg"),
			Entry("subdirectory", "processed/a.jpg"),
		)
	})

	Describe("Get", func() {
		It("returns a saved file", func() {
			_, err := inbox.Save("a.pdf", []byte("%PDF-1.4"))
			Expect(err).NotTo(HaveOccurred())

			data, err := inbox.Get("a.pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("%PDF-1.4")))
		})

		It("wraps a missing file", func() {
			_, err := inbox.Get("missing.jpg")
			Expect(err).To(MatchError(ContainSubstring("reading file")))
			Expect(err).To(MatchError(os.ErrNotExist))
		})

		It("refuses to leave the inbox", func() {
			_, err := inbox.Get("../test.db")
			Expect(err).To(MatchError(ErrInvalidName))
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			for _, name := range []string{"b.pdf", "a.jpg"} {
				_, err := inbox.Save(name, []byte("data"))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(dir, ".upload-42"), []byte("partial"), 0644)).To(Succeed())
			Expect(os.Mkdir(filepath.Join(dir, "processed"), 0755)).To(Succeed())
		})

		It("returns the visible files in name order", func() {
			names, err := inbox.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{"a.jpg", "b.pdf"}))
		})

		When("the directory is gone", func() {
			BeforeEach(func() {
				Expect(os.RemoveAll(dir)).To(Succeed())
			})

			It("returns the error", func() {
				_, err := inbox.List()
				Expect(err).To(MatchError(ContainSubstring("reading inbox directory")))
			})
		})
	})

	Describe("NewLocalStorage", func() {
		It("creates a missing directory", func() {
			path := filepath.Join(GinkgoT().TempDir(), "inbox", "nested")
			_, err := NewLocalStorage(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(BeADirectory())
		})

		It("fails when the path is a file", func() {
			path := filepath.Join(GinkgoT().TempDir(), "file")
			Expect(os.WriteFile(path, nil, 0644)).To(Succeed())
			_, err := NewLocalStorage(path)
			Expect(err).To(MatchError(ContainSubstring("creating inbox directory")))
		})
	})
})
