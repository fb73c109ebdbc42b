package jobsched_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/VsevolodSauta/jobsched"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// testLogger creates a logger for tests (errors only)
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}))
}

func persistedStatus(id int) *jobsched.JobStatus {
	now := time.Now().Truncate(time.Millisecond)
	return &jobsched.JobStatus{
		Job: &jobsched.JobInfo{
			ID:                   id,
			Service:              "sync",
			Extras:               []byte("payload"),
			RequiresConnectivity: true,
			RequiresCharging:     true,
			Persisted:            true,
			MinLatency:           time.Minute,
			OverrideDeadline:     time.Hour,
			BackoffPolicy:        jobsched.BackoffLinear,
			InitialBackoff:       20 * time.Second,
		},
		EarliestRunTime: now.Add(time.Minute),
		LatestRunTime:   now.Add(time.Hour),
		NumFailures:     2,
	}
}

// BackendTestSuite runs a shared test suite against a Backend implementation
func BackendTestSuite(backendFactory func() (jobsched.Backend, func())) {
	var backend jobsched.Backend
	var cleanup func()
	var ctx context.Context

	BeforeEach(func() {
		backend, cleanup = backendFactory()
		ctx = context.Background()
	})

	AfterEach(func() {
		if cleanup != nil {
			cleanup()
		}
	})

	Describe("SaveJob", func() {
		It("should round-trip every job field", func() {
			want := persistedStatus(7)
			Expect(backend.SaveJob(ctx, want)).To(Succeed())

			jobs, err := backend.LoadJobs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(1))

			got := jobs[0]
			Expect(got.Job).To(Equal(want.Job))
			Expect(got.EarliestRunTime.Equal(want.EarliestRunTime)).To(BeTrue())
			Expect(got.LatestRunTime.Equal(want.LatestRunTime)).To(BeTrue())
			Expect(got.NumFailures).To(Equal(2))
		})

		It("should replace a record with the same job ID", func() {
			first := persistedStatus(1)
			Expect(backend.SaveJob(ctx, first)).To(Succeed())

			second := persistedStatus(1)
			second.Job.Service = "upload"
			second.NumFailures = 5
			Expect(backend.SaveJob(ctx, second)).To(Succeed())

			jobs, err := backend.LoadJobs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].Job.Service).To(Equal("upload"))
			Expect(jobs[0].NumFailures).To(Equal(5))
		})

		It("should keep zero run times zero", func() {
			js := &jobsched.JobStatus{Job: &jobsched.JobInfo{ID: 3, Service: "s", Persisted: true}}
			Expect(backend.SaveJob(ctx, js)).To(Succeed())

			jobs, err := backend.LoadJobs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].EarliestRunTime.IsZero()).To(BeTrue())
			Expect(jobs[0].HasDeadline()).To(BeFalse())
		})
	})

	Describe("LoadJobs", func() {
		It("should return an empty result for an empty backend", func() {
			jobs, err := backend.LoadJobs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(BeEmpty())
		})

		It("should return jobs ordered by ID", func() {
			for _, id := range []int{30, 10, 20} {
				Expect(backend.SaveJob(ctx, persistedStatus(id))).To(Succeed())
			}

			jobs, err := backend.LoadJobs(ctx)
			Expect(err).NotTo(HaveOccurred())
			ids := make([]int, 0, len(jobs))
			for _, js := range jobs {
				ids = append(ids, js.JobID())
			}
			Expect(ids).To(Equal([]int{10, 20, 30}))
		})

		It("should mark loaded jobs as persisted", func() {
			Expect(backend.SaveJob(ctx, persistedStatus(4))).To(Succeed())
			jobs, err := backend.LoadJobs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs[0].IsPersisted()).To(BeTrue())
		})
	})

	Describe("DeleteJob", func() {
		It("should remove the record", func() {
			Expect(backend.SaveJob(ctx, persistedStatus(1))).To(Succeed())
			Expect(backend.SaveJob(ctx, persistedStatus(2))).To(Succeed())
			Expect(backend.DeleteJob(ctx, 1)).To(Succeed())

			jobs, err := backend.LoadJobs(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].JobID()).To(Equal(2))
		})

		It("should ignore unknown job IDs", func() {
			Expect(backend.DeleteJob(ctx, 404)).To(Succeed())
		})
	})

	Describe("cancelled context", func() {
		It("should reject operations", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			Expect(backend.SaveJob(cctx, persistedStatus(1))).To(MatchError(context.Canceled))
			_, err := backend.LoadJobs(cctx)
			Expect(err).To(MatchError(context.Canceled))
		})
	})
}

var _ = Describe("InMemoryBackend", func() {
	BackendTestSuite(func() (jobsched.Backend, func()) {
		backend := jobsched.NewInMemoryBackend()
		return backend, func() { _ = backend.Close() }
	})

	It("should return copies that do not alias stored state", func() {
		ctx := context.Background()
		backend := jobsched.NewInMemoryBackend()
		Expect(backend.SaveJob(ctx, persistedStatus(1))).To(Succeed())

		jobs, err := backend.LoadJobs(ctx)
		Expect(err).NotTo(HaveOccurred())
		jobs[0].NumFailures = 99
		jobs[0].Job.Extras[0] = 'X'

		again, err := backend.LoadJobs(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(again[0].NumFailures).To(Equal(2))
		Expect(string(again[0].Job.Extras)).To(Equal("payload"))
	})

	It("should fail with ErrClosed after Close", func() {
		backend := jobsched.NewInMemoryBackend()
		Expect(backend.Close()).To(Succeed())
		err := backend.SaveJob(context.Background(), persistedStatus(1))
		Expect(err).To(MatchError(jobsched.ErrClosed))
	})
})
