package rag

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("RetrievalOrchestrator", func() {
	var (
		pipeline  *Pipeline
		store     *MemoryStore
		generator *fakeGenerator
		ctx       context.Context
	)

	arabicPolicy := "يستحق الموظف اجازه سنويه مدتها ثلاثون يوما مدفوعه الاجر. " +
		"يجب تقديم طلب الاجازه قبل اسبوعين من موعدها."

	ingestPolicy := func() *Document {
		doc, err := pipeline.Ingestion.Ingest(ctx, &IngestionInput{
			Bytes:          []byte(arabicPolicy),
			Filename:       "سياسة-الاجازات.txt",
			MimeType:       MimePlainText,
			OrganizationID: "org-1",
			UploadedBy:     "hr-admin",
		}, IngestionOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(doc.Status).To(Equal(StatusCompleted))
		return doc
	}

	leaveRequest := func() *QueryRequest {
		return &QueryRequest{
			Query:          "كم يوم اجازه سنويه استحق؟",
			OrganizationID: "org-1",
			UserID:         "emp-7",
			Preferences: QueryPreferences{
				IncludeCompanyDocs: true,
				CacheResults:       true,
			},
		}
	}

	BeforeEach(func() {
		generator = &fakeGenerator{answer: "تستحق ثلاثين يوما من الاجازه السنويه المدفوعه."}
		pipeline, store, _ = testPipeline(generator)
		ctx = context.Background()
	})

	Describe("ProcessQuery", func() {
		It("should answer an Arabic query from the ingested corpus", func() {
			ingestPolicy()

			response, err := pipeline.ProcessQuery(ctx, leaveRequest())

			Expect(err).ToNot(HaveOccurred())
			Expect(response.Answer).To(ContainSubstring("ثلاثين"))
			Expect(response.Sources).ToNot(BeEmpty())
			Expect(response.Sources[0].Corpus).To(Equal(CorpusCompanyDocs))
			Expect(response.Confidence).To(BeNumerically(">", 0))
			Expect(response.Cached).To(BeFalse())
			Expect(response.Model).To(Equal("fake-llm-v1"))
		})

		It("should ground the generator on the retrieved sources", func() {
			ingestPolicy()

			_, err := pipeline.ProcessQuery(ctx, leaveRequest())
			Expect(err).ToNot(HaveOccurred())

			Expect(generator.lastQuery).To(Equal("كم يوم اجازه سنويه استحق؟"))
			Expect(generator.lastContext).To(ContainSubstring("[1]"))
			Expect(generator.lastContext).To(ContainSubstring(string(CorpusCompanyDocs)))
			Expect(generator.lastContext).To(ContainSubstring("اجازه سنويه"))
		})

		It("should serve the second identical query from cache", func() {
			ingestPolicy()

			first, err := pipeline.ProcessQuery(ctx, leaveRequest())
			Expect(err).ToNot(HaveOccurred())
			Expect(first.Cached).To(BeFalse())

			second, err := pipeline.ProcessQuery(ctx, leaveRequest())
			Expect(err).ToNot(HaveOccurred())
			Expect(second.Cached).To(BeTrue())
			Expect(second.Answer).To(Equal(first.Answer))
			Expect(generator.calls).To(Equal(1))

			metrics := pipeline.Retrieval.GetMetrics()
			Expect(metrics.TotalQueries).To(Equal(int64(2)))
			Expect(metrics.CacheHits).To(Equal(int64(1)))
		})

		It("should not cache when the caller opts out", func() {
			ingestPolicy()

			request := leaveRequest()
			request.Preferences.CacheResults = false

			_, err := pipeline.ProcessQuery(ctx, request)
			Expect(err).ToNot(HaveOccurred())
			_, err = pipeline.ProcessQuery(ctx, request)
			Expect(err).ToNot(HaveOccurred())
			Expect(generator.calls).To(Equal(2))
		})

		It("should reject empty queries", func() {
			request := leaveRequest()
			request.Query = "   "

			_, err := pipeline.ProcessQuery(ctx, request)

			Expect(err).To(HaveOccurred())
			Expect(CodeOf(err)).To(Equal(CodeValidation))
			Expect(pipeline.Retrieval.GetMetrics().FailedQueries).To(Equal(int64(1)))
		})

		It("should return a valid zero-confidence response when nothing matches", func() {
			// No documents ingested at all.
			response, err := pipeline.ProcessQuery(ctx, leaveRequest())

			Expect(err).ToNot(HaveOccurred())
			Expect(response.Sources).To(BeEmpty())
			Expect(response.Confidence).To(BeZero())
			Expect(response.QualityScore).To(BeZero())
			Expect(response.Answer).ToNot(BeEmpty())
		})

		It("should reduce confidence when a corpus is unreachable", func() {
			ingestPolicy()
			pipeline.Retriever.lexical = nil

			baseline, err := pipeline.ProcessQuery(ctx, leaveRequest())
			Expect(err).ToNot(HaveOccurred())
			Expect(baseline.DegradedCorpora).To(BeEmpty())
			Expect(baseline.Confidence).To(BeNumerically(">", 0))

			pipeline.Retriever.vectors = &failingVectorStore{inner: store, failCorpus: CorpusLaborLaw}
			request := leaveRequest()
			request.Preferences.IncludeLaborLaw = true
			request.Preferences.CacheResults = false

			degraded, err := pipeline.ProcessQuery(ctx, request)
			Expect(err).ToNot(HaveOccurred())
			Expect(degraded.DegradedCorpora).To(ConsistOf(CorpusLaborLaw))
			// The degraded run reaches company docs and scenarios but only
			// company docs produce sources, so corpus coverage halves before
			// the unreachable-corpus penalty applies.
			expected := 0.8 * (baseline.Confidence - 0.1)
			Expect(degraded.Confidence).To(BeNumerically("~", expected, 1e-9))
			Expect(degraded.Confidence).To(BeNumerically("<", baseline.Confidence))
			Expect(pipeline.Retrieval.GetMetrics().DegradedQueries).To(Equal(int64(1)))
		})

		It("should keep a truncated grounding context valid UTF-8", func() {
			ingestPolicy()

			// Tiny budgets force the best-source truncation path at byte
			// offsets that land inside multibyte Arabic runes.
			for budget := 5; budget <= 12; budget++ {
				pipeline.Retrieval.config.ContextTokenBudget = budget
				request := leaveRequest()
				request.Preferences.CacheResults = false

				_, err := pipeline.ProcessQuery(ctx, request)
				Expect(err).ToNot(HaveOccurred())
				Expect(generator.lastContext).ToNot(BeEmpty())
				Expect(utf8.ValidString(generator.lastContext)).To(BeTrue())
			}
		})

		It("should refuse queries for organizations over quota", func() {
			ingestPolicy()
			reset := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
			pipeline.Retrieval.quota = &fakeQuotaGate{err: &QuotaError{
				Current:   500,
				Limit:     500,
				ResetDate: reset,
			}}

			_, err := pipeline.ProcessQuery(ctx, leaveRequest())

			Expect(err).To(HaveOccurred())
			var quotaErr *QuotaError
			Expect(errors.As(err, &quotaErr)).To(BeTrue())
			Expect(quotaErr.Current).To(Equal(int64(500)))
			Expect(quotaErr.ResetDate).To(Equal(reset))
			Expect(generator.calls).To(BeZero())
			Expect(pipeline.Retrieval.GetMetrics().FailedQueries).To(Equal(int64(1)))
		})

		It("should surface generation failures", func() {
			ingestPolicy()
			generator.failWith = fmt.Errorf("llm unavailable")

			_, err := pipeline.ProcessQuery(ctx, leaveRequest())

			Expect(err).To(HaveOccurred())
			Expect(CodeOf(err)).To(Equal(CodeGeneration))
		})

		It("should respect the MaxSources preference", func() {
			ingestPolicy()

			request := leaveRequest()
			request.Preferences.MaxSources = 1

			response, err := pipeline.ProcessQuery(ctx, request)
			Expect(err).ToNot(HaveOccurred())
			Expect(len(response.Sources)).To(BeNumerically("<=", 1))
		})
	})
})
