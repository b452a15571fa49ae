package anchors

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

func TestAnchors(t *testing.T) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	RegisterFailHandler(Fail)
	RunSpecs(t, "Anchors Suite")
}

var _ = Describe("Extractor", func() {
	var (
		extractor *Extractor
		text      string
		result    Result
	)

	BeforeEach(func() {
		extractor = New()
	})

	JustBeforeEach(func() {
		result = extractor.Extract(text)
	})

	Describe("amount grammar", func() {
		When("the total uses a comma decimal", func() {
			BeforeEach(func() {
				text = "Total: 41,53"
			})

			It("reads 41.53", func() {
				Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldTotal, 41.53))
			})
		})

		When("the total carries a dollar sign", func() {
			BeforeEach(func() {
				text = "Total: $41.53"
			})

			It("reads 41.53", func() {
				Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldTotal, 41.53))
			})
		})

		When("the amount has a currency suffix", func() {
			BeforeEach(func() {
				text = "Amount due 12.00 CAD"
			})

			It("reads the amount", func() {
				Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldTotal, 12.0))
			})
		})
	})

	When("a tax is not below the total", func() {
		BeforeEach(func() {
			text = "GST 25.00\nTOTAL 20.00"
		})

		It("drops the tax", func() {
			Expect(result.Amounts).NotTo(HaveKey(extraction.FieldGST))
			Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldTotal, 20.0))
		})
	})

	When("two totals share the highest priority", func() {
		BeforeEach(func() {
			lines := make([]string, 41)
			for i := range lines {
				lines[i] = fmt.Sprintf("item %d", i)
			}
			lines[5] = "TOTAL 12.00"
			lines[40] = "TOTAL 47.75"
			text = strings.Join(lines, "\n")
		})

		It("takes the bottom one", func() {
			Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldTotal, 47.75))
		})
	})

	When("a tax appears twice at the same priority", func() {
		BeforeEach(func() {
			text = "TPS 2.08\nTPS 9.99\nTOTAL 47.75"
		})

		It("takes the first one", func() {
			Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldGST, 2.08))
		})
	})

	When("a grand total outranks a plain total", func() {
		BeforeEach(func() {
			text = "GRAND TOTAL 30.00\nTOTAL 10.00"
		})

		It("takes the grand total", func() {
			Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldTotal, 30.0))
		})
	})

	Describe("dates", func() {
		When("a next bill date precedes the bill date", func() {
			BeforeEach(func() {
				text = "Next Bill Date: 2025-03-01\nBill Date: 2025-02-01"
			})

			It("never takes the next bill date", func() {
				Expect(result.Date).To(Equal("2025-02-01"))
			})
		})

		When("a date line carries a clock time", func() {
			BeforeEach(func() {
				text = "Shop\n2025-01-10\nthanks\nmore\nmore\n2025-01-12 14:32"
			})

			It("prefers the timed date", func() {
				Expect(result.Date).To(Equal("2025-01-12"))
			})
		})

		When("the date uses a French month name", func() {
			BeforeEach(func() {
				text = "Facture\nle 3 février 2025"
			})

			It("reads it", func() {
				Expect(result.Date).To(Equal("2025-02-03"))
			})
		})

		When("the year is out of range", func() {
			BeforeEach(func() {
				text = "Date: 1999-12-31"
			})

			It("finds nothing", func() {
				Expect(result.Date).To(BeEmpty())
			})
		})
	})

	Describe("vendor", func() {
		When("a domain appears anywhere", func() {
			BeforeEach(func() {
				text = "Merci!\nTotal 10.00\nwww.saq.com"
			})

			It("maps the domain", func() {
				Expect(result.Vendor).To(Equal("SAQ"))
			})
		})

		When("a marketplace order phrase appears", func() {
			BeforeEach(func() {
				text = "Order confirmation\n" + strings.Repeat("line\n", 12) + "Fulfilled by Amazon"
			})

			It("names the marketplace", func() {
				Expect(result.Vendor).To(Equal("Amazon"))
			})
		})

		When("the header opens with a ship-to block", func() {
			BeforeEach(func() {
				text = "Ship to:\nJane Doe\n123 Main Street\nLE PETIT ATELIER\nTotal 10.00"
			})

			It("skips the buyer and the address", func() {
				Expect(result.Vendor).To(Equal("Le Petit Atelier"))
			})
		})
	})

	When("the receipt is a complete grocery slip", func() {
		BeforeEach(func() {
			text = strings.Join([]string{
				"IGA",
				"Marche Lambert",
				"2025-02-14 14:32",
				"LAIT 2% 4L         5,99",
				"PAIN               3,49",
				"SOUS-TOTAL        41,53",
				"TPS                2,08",
				"TVQ                4,14",
				"TOTAL             47,75",
			}, "\n")
		})

		It("resolves every field", func() {
			Expect(result.Vendor).To(Equal("IGA"))
			Expect(result.Date).To(Equal("2025-02-14"))
			Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldPreTax, 41.53))
			Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldGST, 2.08))
			Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldQST, 4.14))
			Expect(result.Amounts).To(HaveKeyWithValue(extraction.FieldTotal, 47.75))
			Expect(result.Complete()).To(BeTrue())
			Expect(result.HasTax()).To(BeTrue())
		})

		It("is idempotent", func() {
			Expect(extractor.Extract(text)).To(Equal(result))
			Expect(extractor.Anchors(text)).To(Equal(extractor.Anchors(text)))
		})

		It("formats the findings for a prompt", func() {
			ctx := result.PromptContext()
			Expect(ctx).To(ContainSubstring("  Vendor: IGA"))
			Expect(ctx).To(ContainSubstring("  Total: 47.75"))
			Expect(ctx).To(ContainSubstring("  QST/TVQ: 4.14"))
			Expect(ctx).NotTo(ContainSubstring("no high-confidence values"))
		})
	})

	When("nothing is found", func() {
		BeforeEach(func() {
			text = "1234\n5678"
		})

		It("says so in the prompt context", func() {
			Expect(result.Complete()).To(BeFalse())
			Expect(result.PromptContext()).To(ContainSubstring("no high-confidence values found"))
		})
	})
})

var _ = Describe("ParseDate", func() {
	DescribeTable("valid tokens",
		func(in, want string) {
			t, ok := ParseDate(in)
			Expect(ok).To(BeTrue())
			Expect(t.Format(ISODate)).To(Equal(want))
		},
		Entry("iso", "2025-02-14", "2025-02-14"),
		Entry("month first", "02/14/2025", "2025-02-14"),
		Entry("day first when above 12", "14/02/2025", "2025-02-14"),
		Entry("compact", "20250214", "2025-02-14"),
		Entry("english month", "Feb 14, 2025", "2025-02-14"),
		Entry("french month", "le 14 avril 2025", "2025-04-14"),
	)

	It("rejects impossible calendar dates", func() {
		_, ok := ParseDate("2025-02-30")
		Expect(ok).To(BeFalse())
	})
})
