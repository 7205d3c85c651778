package session

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			savedPath string
			err       error
		)

		BeforeEach(func() {
			filename = "session_1_receipt.jpg"
		})

		JustBeforeEach(func() {
			savedPath, err = storage.Save(filename, []byte("photo"))
		})

		It("should save the file to disk", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(savedPath).To(Equal(filename))
			Expect(filepath.Join(tmpDir, filename)).To(BeAnExistingFile())
		})

		When("the name carries directories", func() {
			BeforeEach(func() {
				filename = "../../escape.jpg"
			})

			It("should keep the file inside the directory", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedPath).To(Equal("escape.jpg"))
				Expect(filepath.Join(tmpDir, "escape.jpg")).To(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		var (
			filename string
			data     []byte
			err      error
		)

		JustBeforeEach(func() {
			data, err = storage.Get(filename)
		})

		When("the file exists", func() {
			BeforeEach(func() {
				filename = "receipt.png"
				_, saveErr := storage.Save(filename, []byte("png"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should return its contents", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("png"))
			})
		})

		When("the file does not exist", func() {
			BeforeEach(func() {
				filename = "missing.png"
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("reading file")))
			})
		})
	})

	Describe("Delete", func() {
		var (
			filename string
			err      error
		)

		JustBeforeEach(func() {
			err = storage.Delete(filename)
		})

		When("the file exists", func() {
			BeforeEach(func() {
				filename = "receipt.pdf"
				_, saveErr := storage.Save(filename, []byte("pdf"))
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should remove the file from disk", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(filepath.Join(tmpDir, filename)).NotTo(BeAnExistingFile())
				_, getErr := storage.Get(filename)
				Expect(getErr).To(HaveOccurred())
			})
		})

		When("the file does not exist", func() {
			BeforeEach(func() {
				filename = "missing.pdf"
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("deleting file")))
			})
		})
	})

	Describe("NewLocalStorage", func() {
		It("should create a missing directory", func() {
			path := filepath.Join(GinkgoT().TempDir(), "images")
			s, err := NewLocalStorage(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(BeADirectory())
			_, err = s.Save("a.jpg", []byte("data"))
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
