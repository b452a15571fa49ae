package validate

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/PStewardYUL/receipt-ai/internal/extraction"
)

func TestValidate(t *testing.T) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	RegisterFailHandler(Fail)
	RunSpecs(t, "Validate Suite")
}

func fixedConfig() Config {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return cfg
}

var _ = Describe("Validator", func() {
	var (
		validator *Validator
		draft     extraction.Draft
		text      string
		result    extraction.Result
	)

	BeforeEach(func() {
		validator = New(fixedConfig())
		text = ""
		draft = extraction.Draft{
			IsReceipt:  true,
			Vendor:     "IGA",
			Date:       "2025-02-01",
			Currency:   "CAD",
			Confidence: 0.8,
		}
	})

	JustBeforeEach(func() {
		result = validator.Validate(draft, text)
	})

	Describe("arithmetic", func() {
		When("the parts add up within tolerance", func() {
			BeforeEach(func() {
				draft.PreTax = extraction.Of(17.80)
				draft.GST = extraction.Of(0.89)
				draft.QST = extraction.Of(1.78)
				draft.Total = extraction.Of(20.50)
			})

			It("leaves the values alone", func() {
				Expect(result.PreTax).To(Equal(17.80))
				Expect(result.Total).To(Equal(20.50))
				Expect(result.Warnings).To(BeEmpty())
				Expect(result.MathValid).To(BeTrue())
				Expect(result.Confidence).To(Equal(1.0))
			})
		})

		When("the difference is exactly the tolerance", func() {
			BeforeEach(func() {
				draft.PreTax = extraction.Of(10.00)
				draft.GST = extraction.Of(0.50)
				draft.Total = extraction.Of(10.65)
			})

			It("accepts it", func() {
				Expect(result.PreTax).To(Equal(10.00))
				Expect(result.Warnings).To(BeEmpty())
			})
		})

		When("the difference is small", func() {
			BeforeEach(func() {
				draft.PreTax = extraction.Of(15.00)
				draft.GST = extraction.Of(1.00)
				draft.QST = extraction.Of(1.00)
				draft.Total = extraction.Of(18.50)
			})

			It("corrects pre_tax without a mismatch penalty", func() {
				Expect(result.PreTax).To(Equal(16.50))
				Expect(result.Warnings).To(Equal([]string{"MATH_ADJUSTED_PRETAX:15.00→16.50"}))
				Expect(result.MathValid).To(BeTrue())
				Expect(result.Confidence).To(Equal(1.0))
			})
		})

		When("the difference is large", func() {
			BeforeEach(func() {
				draft.PreTax = extraction.Of(10.00)
				draft.GST = extraction.Of(1.00)
				draft.Total = extraction.Of(50.00)
			})

			It("warns and keeps the values", func() {
				Expect(result.PreTax).To(Equal(10.00))
				Expect(result.Total).To(Equal(50.00))
				Expect(result.Warnings).To(ConsistOf(HavePrefix("MATH_MISMATCH:")))
				Expect(result.MathValid).To(BeFalse())
				Expect(result.Confidence).To(BeNumerically("~", 0.8, 1e-9))
			})
		})

		When("pre_tax is missing", func() {
			BeforeEach(func() {
				draft.GST = extraction.Of(0.50)
				draft.QST = extraction.Of(1.00)
				draft.Total = extraction.Of(11.50)
			})

			It("infers it from the total", func() {
				Expect(result.PreTax).To(Equal(10.00))
				Expect(result.Warnings).To(Equal([]string{"MATH_INFERRED_PRETAX:10.00"}))
			})
		})

		When("the total is missing", func() {
			BeforeEach(func() {
				draft.PreTax = extraction.Of(10.00)
				draft.GST = extraction.Of(0.50)
			})

			It("infers it from the parts", func() {
				Expect(result.Total).To(Equal(10.50))
				Expect(result.Warnings).To(Equal([]string{"MATH_INFERRED_TOTAL:10.50"}))
			})
		})

		When("the only tax is PST", func() {
			BeforeEach(func() {
				draft.Confidence = 0.5
				draft.PreTax = extraction.Of(10.00)
				draft.PST = extraction.Of(0.70)
				draft.Total = extraction.Of(10.70)
			})

			It("still earns the tax bonus", func() {
				Expect(result.Warnings).To(BeEmpty())
				// 0.5 + vendor, date, total and tax
				Expect(result.Confidence).To(BeNumerically("~", 0.7, 1e-9))
			})
		})

		When("amounts are not finite", func() {
			BeforeEach(func() {
				draft.PreTax = extraction.Of(math.Inf(1))
				draft.GST = extraction.Of(math.NaN())
				draft.QST = extraction.Of(0.60)
				draft.Total = extraction.Of(6.90)
			})

			It("treats them as missing", func() {
				Expect(result.GST).To(BeZero())
				Expect(result.PreTax).To(Equal(6.30))
				Expect(result.Warnings).To(Equal([]string{"MATH_INFERRED_PRETAX:6.30"}))
				_, err := json.Marshal(result)
				Expect(err).NotTo(HaveOccurred())
			})
		})

		When("no amount was found", func() {
			It("flags the missing total", func() {
				Expect(result.Warnings).To(Equal([]string{WarnMathMissingTotal}))
				// 0.8 - 0.25 + vendor + date
				Expect(result.Confidence).To(BeNumerically("~", 0.65, 1e-9))
			})
		})
	})

	Describe("tax sanity", func() {
		BeforeEach(func() {
			draft.Confidence = 0.5
			draft.Total = extraction.Of(20.00)
			draft.GST = extraction.Of(25.00)
			draft.QST = extraction.Of(11.00)
		})

		It("zeroes impossible taxes and charges the penalty once", func() {
			Expect(result.GST).To(BeZero())
			Expect(result.QST).To(BeZero())
			Expect(result.Warnings).To(ConsistOf(
				HavePrefix("TAX_SANITY_ZEROED:gst="),
				HavePrefix("TAX_SANITY_CAPPED:qst="),
			))
			// 0.5 - 0.10 + vendor + date + total
			Expect(result.Confidence).To(BeNumerically("~", 0.55, 1e-9))
		})
	})

	Describe("digit repair", func() {
		BeforeEach(func() {
			draft.Total = extraction.Amount{Raw: "$4O.5O"}
			draft.GST = extraction.Amount{Raw: "abc"}
			draft.Confidence = 0.5
		})

		It("repairs what it can and zeroes the rest", func() {
			Expect(result.Total).To(Equal(40.50))
			Expect(result.GST).To(BeZero())
			Expect(result.Warnings).To(ContainElements(
				"OCR_FIX:total:$4O.5O→40.50",
				"OCR_UNPARSEABLE:gst:abc",
			))
			// 0.5 - 0.15 + vendor + date + total
			Expect(result.Confidence).To(BeNumerically("~", 0.5, 1e-9))
		})
	})

	Describe("dates", func() {
		BeforeEach(func() {
			draft.Total = extraction.Of(45.00)
		})

		When("the date is written out", func() {
			BeforeEach(func() {
				draft.Date = "March 10, 2024"
			})

			It("normalizes it", func() {
				Expect(result.Date).To(Equal("2024-03-10"))
			})
		})

		When("the date is compact", func() {
			BeforeEach(func() {
				draft.Date = "20240315"
			})

			It("normalizes it", func() {
				Expect(result.Date).To(Equal("2024-03-15"))
			})
		})

		When("the date is too far ahead", func() {
			BeforeEach(func() {
				draft.Date = "2027-01-01"
			})

			It("rejects it", func() {
				Expect(result.Date).To(BeEmpty())
				Expect(result.Warnings).To(ContainElements("DATE_PARSE_FAILED:2027-01-01", WarnDateMissing))
			})
		})

		When("the date is missing but the text has one", func() {
			BeforeEach(func() {
				draft.Date = ""
				text = "VIRGIN PLUS\nBill Date: 2025-02-01\nAccount 123\nAmount due 45.00\nNext Bill Date: 2025-03-01"
			})

			It("takes the transaction date and skips the next bill date", func() {
				Expect(result.Date).To(Equal("2025-02-01"))
				Expect(result.Warnings).To(ContainElement("DATE_FROM_OCR:2025-02-01"))
			})
		})

		When("the only date in the text is an expiry", func() {
			BeforeEach(func() {
				draft.Date = ""
				text = "CARD ENDING 1234\nExpiry 2025-09-30"
			})

			It("reports the date missing", func() {
				Expect(result.Date).To(BeEmpty())
				Expect(result.Warnings).To(ContainElement(WarnDateMissing))
			})
		})
	})

	Describe("vendor", func() {
		When("the vendor is a placeholder", func() {
			BeforeEach(func() {
				draft.Vendor = "Receipt"
				text = "Questions? bell.ca or virginplus.ca/help"
			})

			It("infers it from the longest matching domain", func() {
				Expect(result.Vendor).To(Equal("Virgin Plus"))
			})
		})
	})

	When("the draft is not a receipt", func() {
		BeforeEach(func() {
			draft = extraction.Draft{Confidence: 0.3, Currency: "usd"}
		})

		It("passes it through", func() {
			Expect(result.IsReceipt).To(BeFalse())
			Expect(result.Warnings).To(BeEmpty())
			Expect(result.Currency).To(Equal("USD"))
			Expect(result.Confidence).To(Equal(0.3))
		})
	})

	It("defaults the currency", func() {
		draft.Currency = ""
		result = validator.Validate(draft, "")
		Expect(result.Currency).To(Equal("CAD"))
	})
})

var _ = DescribeTable("CleanVendor",
	func(in, want string) {
		Expect(CleanVendor(in)).To(Equal(want))
	},
	Entry("shouting", "  HOME   DEPOT ", "Home Depot"),
	Entry("short acronym", "IGA", "IGA"),
	Entry("accents", "Vidéotron", "Videotron"),
	Entry("placeholder", "RECEIPT", ""),
	Entry("french placeholder", "Reçu", ""),
	Entry("numeral", "12345", ""),
	Entry("n/a", "n/a", ""),
	Entry("empty", "", ""),
)

var _ = DescribeTable("RepairDigits",
	func(in string, want float64, ok bool) {
		got, parsed := RepairDigits(in)
		Expect(parsed).To(Equal(ok))
		Expect(got).To(Equal(want))
	},
	Entry("letter O", "4O.5O", 40.50, true),
	Entry("currency and spaces", "$ 1 2.99", 12.99, true),
	Entry("thousands comma", "1,234.5", 1234.50, true),
	Entry("S for 5", "S.25", 5.25, true),
	Entry("two dots", "12.34.56", 12.56, true),
	Entry("garbage", "n/a", 0.0, false),
)
