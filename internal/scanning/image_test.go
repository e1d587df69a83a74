package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	return img
}

func pngBytes() []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, testImage())).To(Succeed())
	return buf.Bytes()
}

func jpegBytes() []byte {
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, testImage(), nil)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("prepareImage", func() {
	It("accepts PNG data", func() {
		format, err := prepareImage(pngBytes(), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal("png"))
	})

	It("accepts JPEG data with a padded content type", func() {
		format, err := prepareImage(jpegBytes(), " IMAGE/JPEG ")
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal("jpeg"))
	})

	It("rejects data that is not an image", func() {
		_, err := prepareImage([]byte("not an image"), "image/png")
		Expect(err).To(HaveOccurred())
	})

	It("rejects other content types", func() {
		_, err := prepareImage(pngBytes(), "image/gif")
		Expect(err).To(MatchError(ContainSubstring("Supported formats")))
	})
})
