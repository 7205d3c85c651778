package parser

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LoadLocale", func() {
	var (
		path   string
		locale Locale
		err    error
	)

	JustBeforeEach(func() {
		locale, err = LoadLocale(path)
	})

	When("the file overrides some fields", func() {
		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "locale.yaml")
			Expect(os.WriteFile(path, []byte("unreadable_label: \"(illegible)\"\n"), 0644)).To(Succeed())
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should apply the override", func() {
			Expect(locale.UnreadableLabel).To(Equal("(illegible)"))
		})

		It("should keep the defaults for the rest", func() {
			Expect(locale.SkipPatterns).To(Equal(DefaultLocale().SkipPatterns))
			Expect(locale.CurrencyTokens).To(Equal(DefaultLocale().CurrencyTokens))
			Expect(locale.MaxPrice.String()).To(Equal("999999.99"))
		})
	})

	When("the file does not exist", func() {
		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "missing.yaml")
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})

	When("max_price is not a number", func() {
		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "locale.yaml")
			Expect(os.WriteFile(path, []byte("max_price: lots\n"), 0644)).To(Succeed())
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("parsing max_price")))
		})
	})

	When("max_price is negative", func() {
		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "locale.yaml")
			Expect(os.WriteFile(path, []byte("max_price: \"-1\"\n"), 0644)).To(Succeed())
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("must be positive")))
		})
	})
})
