package jobsched_test

import (
	"context"
	"time"

	"github.com/VsevolodSauta/jobsched"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("JobStore", func() {
	var (
		ctx     context.Context
		backend *jobsched.InMemoryBackend
		store   *jobsched.JobStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		backend = jobsched.NewInMemoryBackend()
		var err error
		store, err = jobsched.OpenJobStore(ctx, backend, testLogger())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = store.Close()
	})

	add := func(info *jobsched.JobInfo) *jobsched.JobStatus {
		js := jobsched.NewJobStatus(info, time.Now())
		Expect(store.Update(ctx, func(txn *jobsched.StoreTxn) error {
			txn.Add(js)
			return nil
		})).To(Succeed())
		return js
	}

	It("should keep one status per job ID", func() {
		add(&jobsched.JobInfo{ID: 1, Service: "a"})
		add(&jobsched.JobInfo{ID: 1, Service: "b"})
		Expect(store.Len()).To(Equal(1))

		Expect(store.View(ctx, func(txn *jobsched.StoreTxn) error {
			Expect(txn.Get(1).Job.Service).To(Equal("b"))
			return nil
		})).To(Succeed())
	})

	It("should write persisted jobs through to the backend", func() {
		add(&jobsched.JobInfo{ID: 1, Service: "a", Persisted: true})
		add(&jobsched.JobInfo{ID: 2, Service: "a"})

		jobs, err := backend.LoadJobs(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(1))
		Expect(jobs[0].JobID()).To(Equal(1))
	})

	It("should delete persisted jobs from the backend on Remove", func() {
		js := add(&jobsched.JobInfo{ID: 1, Service: "a", Persisted: true})
		Expect(store.Update(ctx, func(txn *jobsched.StoreTxn) error {
			txn.Remove(js)
			return nil
		})).To(Succeed())

		jobs, err := backend.LoadJobs(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(BeEmpty())
		Expect(store.Len()).To(BeZero())
	})

	It("should ignore removal of nil, absent and superseded statuses", func() {
		old := add(&jobsched.JobInfo{ID: 1, Service: "a"})
		add(&jobsched.JobInfo{ID: 1, Service: "b"})
		Expect(store.Update(ctx, func(txn *jobsched.StoreTxn) error {
			txn.Remove(nil)
			txn.Remove(txn.Get(42))
			txn.Remove(old)
			return nil
		})).To(Succeed())
		Expect(store.Len()).To(Equal(1))
	})

	It("should list jobs ordered by ID", func() {
		for _, id := range []int{3, 1, 2} {
			add(&jobsched.JobInfo{ID: id, Service: "a"})
		}
		var ids []int
		Expect(store.View(ctx, func(txn *jobsched.StoreTxn) error {
			for _, js := range txn.Jobs() {
				ids = append(ids, js.JobID())
			}
			return nil
		})).To(Succeed())
		Expect(ids).To(Equal([]int{1, 2, 3}))
	})

	It("should refuse writes in a read-only transaction", func() {
		Expect(func() {
			_ = store.View(ctx, func(txn *jobsched.StoreTxn) error {
				txn.Add(jobsched.NewJobStatus(&jobsched.JobInfo{ID: 1, Service: "a"}, time.Now()))
				return nil
			})
		}).To(Panic())
	})

	It("should load persisted jobs on open", func() {
		add(&jobsched.JobInfo{ID: 5, Service: "a", Persisted: true})
		reopened, err := jobsched.OpenJobStore(ctx, backend, testLogger())
		Expect(err).NotTo(HaveOccurred())
		Expect(reopened.Len()).To(Equal(1))
	})

	It("should fail with ErrClosed after Close", func() {
		Expect(store.Close()).To(Succeed())
		err := store.View(ctx, func(*jobsched.StoreTxn) error { return nil })
		Expect(err).To(MatchError(jobsched.ErrClosed))
	})
})
