package rag

import (
	"context"
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("IngestionOrchestrator", func() {
	var (
		pipeline *Pipeline
		store    *MemoryStore
		provider *fakeProvider
		ctx      context.Context
	)

	policyText := strings.Repeat(
		"All employees are entitled to 30 days of paid annual leave. "+
			"Leave requests must be submitted two weeks in advance. ", 8)

	newInput := func() *IngestionInput {
		return &IngestionInput{
			Bytes:          []byte(policyText),
			Filename:       "leave-policy.txt",
			MimeType:       MimePlainText,
			OrganizationID: "org-1",
			UploadedBy:     "hr-admin",
		}
	}

	BeforeEach(func() {
		pipeline, store, provider = testPipeline(nil)
		ctx = context.Background()
	})

	Describe("Ingest", func() {
		It("should run a clean document to completed", func() {
			doc, err := pipeline.Ingestion.Ingest(ctx, newInput(), IngestionOptions{})

			Expect(err).ToNot(HaveOccurred())
			Expect(doc.Status).To(Equal(StatusCompleted))
			Expect(doc.Status.Terminal()).To(BeTrue())
			Expect(doc.Chunks).ToNot(BeEmpty())
			Expect(doc.Embeddings).To(HaveLen(len(doc.Chunks)))
			Expect(doc.DetectedLanguage).To(Equal(LanguageEnglish))
		})

		It("should record every stage with durations in order", func() {
			doc, err := pipeline.Ingestion.Ingest(ctx, newInput(), IngestionOptions{})
			Expect(err).ToNot(HaveOccurred())

			record := doc.CurrentRecord()
			Expect(record).ToNot(BeNil())
			Expect(record.FinalStatus).To(Equal(StatusCompleted))

			stages := make([]string, len(record.Stages))
			for i, s := range record.Stages {
				stages[i] = s.Stage
				Expect(s.DurationMs).To(BeNumerically(">=", 0))
				Expect(s.Outcome).To(Equal("ok"))
			}
			Expect(stages).To(Equal([]string{"validating", "extracting", "chunking", "embedding"}))
		})

		It("should index every chunk into the company corpus", func() {
			doc, err := pipeline.Ingestion.Ingest(ctx, newInput(), IngestionOptions{})
			Expect(err).ToNot(HaveOccurred())
			Expect(store.CorpusSize(CorpusCompanyDocs)).To(Equal(len(doc.Chunks)))
		})

		It("should fail validation for executable payloads", func() {
			input := newInput()
			input.Bytes = append([]byte{'M', 'Z'}, input.Bytes...)
			input.MimeType = MimePlainText

			doc, err := pipeline.Ingestion.Ingest(ctx, input, IngestionOptions{})

			Expect(err).ToNot(HaveOccurred())
			Expect(doc.Status).To(Equal(StatusFailed))
			record := doc.CurrentRecord()
			Expect(record.Stages).To(HaveLen(1))
			Expect(record.Stages[0].Stage).To(Equal("validating"))
			Expect(record.Stages[0].Outcome).To(Equal("fatal"))
			Expect(store.CorpusSize(CorpusCompanyDocs)).To(BeZero())
		})

		It("should fail when the declared type contradicts the bytes", func() {
			input := newInput()
			input.MimeType = MimePDF

			doc, err := pipeline.Ingestion.Ingest(ctx, input, IngestionOptions{})

			Expect(err).ToNot(HaveOccurred())
			Expect(doc.Status).To(Equal(StatusFailed))
		})

		Context("when embedding fails", func() {
			BeforeEach(func() {
				provider.failWith = fmt.Errorf("provider quota exhausted")
			})

			It("should fail the document by default", func() {
				doc, err := pipeline.Ingestion.Ingest(ctx, newInput(), IngestionOptions{})

				Expect(err).ToNot(HaveOccurred())
				Expect(doc.Status).To(Equal(StatusFailed))
			})

			It("should complete with warnings when the caller opts in", func() {
				doc, err := pipeline.Ingestion.Ingest(ctx, newInput(), IngestionOptions{
					ContinueOnEmbeddingFailure: true,
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(doc.Status).To(Equal(StatusCompletedWithWarnings))
				Expect(doc.Chunks).ToNot(BeEmpty())
				Expect(doc.Embeddings).To(BeEmpty())
				Expect(doc.Metadata).To(HaveKey("embeddingError"))
				Expect(doc.CurrentRecord().EmbeddingError).To(ContainSubstring("quota"))
			})
		})
	})

	Describe("Reprocess", func() {
		It("should re-enter at chunking from the stored text", func() {
			doc, err := pipeline.Ingestion.Ingest(ctx, newInput(), IngestionOptions{})
			Expect(err).ToNot(HaveOccurred())
			firstRuns := len(doc.ProcessingRecords)

			reprocessed, err := pipeline.Ingestion.Reprocess(ctx, doc.ID, IngestionOptions{})

			Expect(err).ToNot(HaveOccurred())
			Expect(reprocessed.Status).To(Equal(StatusCompleted))
			Expect(reprocessed.ProcessingRecords).To(HaveLen(firstRuns + 1))

			record := reprocessed.CurrentRecord()
			Expect(record.Reprocess).To(BeTrue())
			stages := make([]string, len(record.Stages))
			for i, s := range record.Stages {
				stages[i] = s.Stage
			}
			Expect(stages).To(Equal([]string{"chunking", "embedding"}))
		})

		It("should not duplicate index entries across runs", func() {
			doc, err := pipeline.Ingestion.Ingest(ctx, newInput(), IngestionOptions{})
			Expect(err).ToNot(HaveOccurred())

			reprocessed, err := pipeline.Ingestion.Reprocess(ctx, doc.ID, IngestionOptions{})
			Expect(err).ToNot(HaveOccurred())
			Expect(store.CorpusSize(CorpusCompanyDocs)).To(Equal(len(reprocessed.Chunks)))
		})

		It("should refuse documents with no stored text", func() {
			doc := &Document{ID: "bare-doc", Status: StatusFailed}
			Expect(store.UpsertDocument(ctx, doc)).To(Succeed())

			_, err := pipeline.Ingestion.Reprocess(ctx, "bare-doc", IngestionOptions{})

			Expect(err).To(HaveOccurred())
			Expect(CodeOf(err)).To(Equal(CodeValidation))
		})
	})

	Describe("IngestBatch", func() {
		It("should process independent documents concurrently", func() {
			inputs := make([]*IngestionInput, 5)
			for i := range inputs {
				inputs[i] = newInput()
				inputs[i].Filename = fmt.Sprintf("policy-%d.txt", i)
			}

			docs := pipeline.Ingestion.IngestBatch(ctx, inputs, IngestionOptions{})

			Expect(docs).To(HaveLen(5))
			for _, doc := range docs {
				Expect(doc).ToNot(BeNil())
				Expect(doc.Status).To(Equal(StatusCompleted))
			}
			metrics := pipeline.Ingestion.GetMetrics()
			Expect(metrics.Completed).To(Equal(int64(5)))
		})
	})
})
