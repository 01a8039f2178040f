package rag

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ChunkingService", func() {
	var (
		service *ChunkingService
		config  *ChunkingConfig
	)

	BeforeEach(func() {
		config = &ChunkingConfig{
			Strategy:                StrategySemantic,
			ChunkSize:               200,
			Overlap:                 30,
			MinChunkSize:            20,
			MaxChunkSize:            400,
			SentenceBoundaryWeight:  1.0,
			ParagraphBoundaryWeight: 2.0,
			CharsPerPage:            500,
		}
		service = NewChunkingService(config)
	})

	Describe("NewChunkingService", func() {
		It("should fall back to defaults when no config is given", func() {
			s := NewChunkingService(nil)
			Expect(s).NotTo(BeNil())
			Expect(s.config.ChunkSize).To(BeNumerically(">", 0))
		})

		It("should clamp an overlap that exceeds the chunk size", func() {
			s := NewChunkingService(&ChunkingConfig{ChunkSize: 100, Overlap: 150})
			Expect(s.config.Overlap).To(BeNumerically("<", s.config.ChunkSize))
		})
	})

	Describe("ChunkText", func() {
		longText := strings.Repeat("The probation period lasts ninety days. "+
			"It may be extended once by written agreement. ", 12)

		It("should cover the whole text with contiguous spans", func() {
			chunks, summary, err := service.ChunkText("doc-1", longText, LanguageEnglish)

			Expect(err).ToNot(HaveOccurred())
			Expect(summary.TotalChunks).To(Equal(len(chunks)))
			Expect(chunks[0].Start).To(Equal(0))
			Expect(chunks[len(chunks)-1].End).To(Equal(len([]rune(longText))))

			for i, chunk := range chunks {
				Expect(chunk.Index).To(Equal(i))
				Expect(chunk.End).To(BeNumerically(">", chunk.Start))
				Expect(chunk.Content).To(Equal(string([]rune(longText)[chunk.Start:chunk.End])))
			}
		})

		It("should start each chunk inside its predecessor's tail", func() {
			chunks, _, err := service.ChunkText("doc-2", longText, LanguageEnglish)
			Expect(err).ToNot(HaveOccurred())
			Expect(len(chunks)).To(BeNumerically(">", 1))

			for i := 1; i < len(chunks); i++ {
				Expect(chunks[i].Start).To(BeNumerically("<=", chunks[i-1].End))
				Expect(chunks[i].Start).To(BeNumerically(">", chunks[i-1].Start))
			}
		})

		It("should reject empty text", func() {
			_, _, err := service.ChunkText("doc-3", "   \n ", LanguageEnglish)
			Expect(err).To(HaveOccurred())
			Expect(CodeOf(err)).To(Equal(CodeChunking))
		})

		It("should return a single chunk for short text", func() {
			chunks, _, err := service.ChunkText("doc-4", "Short policy note.", LanguageEnglish)
			Expect(err).ToNot(HaveOccurred())
			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].Content).To(Equal("Short policy note."))
		})

		It("should compute spans in runes for Arabic text", func() {
			arabic := strings.Repeat("يستحق العامل اجازه سنويه مدتها ثلاثون يوما. ", 10)
			chunks, _, err := service.ChunkText("doc-5", arabic, LanguageArabic)

			Expect(err).ToNot(HaveOccurred())
			runes := []rune(arabic)
			for _, chunk := range chunks {
				Expect(chunk.End).To(BeNumerically("<=", len(runes)))
				Expect(chunk.Content).To(Equal(string(runes[chunk.Start:chunk.End])))
				Expect(chunk.Language).To(Equal(LanguageArabic))
			}
		})

		It("should assign approximate page numbers", func() {
			chunks, _, err := service.ChunkText("doc-6", longText, LanguageEnglish)
			Expect(err).ToNot(HaveOccurred())
			Expect(chunks[0].Page).To(Equal(1))
			last := chunks[len(chunks)-1]
			Expect(last.Page).To(Equal(last.Start/config.CharsPerPage + 1))
		})

		It("should attach the nearest preceding heading as section", func() {
			text := "المادة 84\n\n" + strings.Repeat("يستحق العامل مكافاه نهايه الخدمه عند انتهاء العقد. ", 8)
			chunks, _, err := service.ChunkText("doc-7", text, LanguageArabic)

			Expect(err).ToNot(HaveOccurred())
			for _, chunk := range chunks {
				Expect(chunk.Section).To(Equal("المادة 84"))
			}
		})
	})

	Describe("strategies", func() {
		It("should split at paragraph boundaries under the paragraph strategy", func() {
			config.Strategy = StrategyParagraph
			service = NewChunkingService(config)

			paragraph := strings.Repeat("Overtime pay is at one and a half times the wage. ", 5)
			text := paragraph + "\n\n" + paragraph + "\n\n" + paragraph

			chunks, summary, err := service.ChunkText("doc-8", text, LanguageEnglish)
			Expect(err).ToNot(HaveOccurred())
			Expect(summary.Strategy).To(Equal(string(StrategyParagraph)))
			Expect(len(chunks)).To(BeNumerically(">", 1))
		})

		It("should make progress past paragraph gaps wider than the chunk window", func() {
			config.Strategy = StrategyParagraph
			service = NewChunkingService(config)

			// One early paragraph break, then a stretch with no break at all.
			text := strings.Repeat("a", 100) + "\n\n" + strings.Repeat("b", 600)

			chunks, _, err := service.ChunkText("doc-10", text, LanguageEnglish)
			Expect(err).ToNot(HaveOccurred())
			Expect(chunks[len(chunks)-1].End).To(Equal(len([]rune(text))))
			for i := 1; i < len(chunks); i++ {
				Expect(chunks[i].End).To(BeNumerically(">", chunks[i-1].End))
			}
			for _, chunk := range chunks {
				Expect(chunk.End - chunk.Start).To(BeNumerically("<=", config.MaxChunkSize))
			}
		})

		It("should merge a trailing fragment into the preceding chunk", func() {
			config.Strategy = StrategySentence
			config.Overlap = 0
			service = NewChunkingService(config)

			text := strings.Repeat("a", 198) + ". Annex"
			chunks, _, err := service.ChunkText("doc-11", text, LanguageEnglish)

			Expect(err).ToNot(HaveOccurred())
			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].Content).To(Equal(text))
		})

		It("should skip break candidates that would leave undersized chunks", func() {
			config.Strategy = StrategySentence
			service = NewChunkingService(config)

			text := "Ok. " + strings.Repeat("The notice period is sixty days for indefinite contracts. ", 8)
			chunks, _, err := service.ChunkText("doc-12", text, LanguageEnglish)

			Expect(err).ToNot(HaveOccurred())
			for _, chunk := range chunks {
				Expect(chunk.End - chunk.Start).To(BeNumerically(">=", config.MinChunkSize))
			}
		})

		It("should force-split unbroken text at the max chunk size", func() {
			config.Strategy = StrategySentence
			service = NewChunkingService(config)

			unbroken := strings.Repeat("x", 1000)
			chunks, _, err := service.ChunkText("doc-9", unbroken, LanguageEnglish)

			Expect(err).ToNot(HaveOccurred())
			for _, chunk := range chunks {
				Expect(chunk.End - chunk.Start).To(BeNumerically("<=", config.MaxChunkSize))
			}
		})
	})
})
