package jobsched_test

import (
	"context"
	"os"

	"github.com/VsevolodSauta/jobsched"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BadgerBackend", func() {
	BackendTestSuite(func() (jobsched.Backend, func()) {
		tmpDir, err := os.MkdirTemp("", "jobsched_badger_*")
		Expect(err).NotTo(HaveOccurred())

		backend, err := jobsched.NewBadgerBackend(tmpDir, testLogger())
		Expect(err).NotTo(HaveOccurred())

		return backend, func() {
			_ = backend.Close()
			_ = os.RemoveAll(tmpDir)
		}
	})

	It("should keep jobs across reopen", func() {
		tmpDir, err := os.MkdirTemp("", "jobsched_badger_reopen_*")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = os.RemoveAll(tmpDir) }()
		ctx := context.Background()

		backend, err := jobsched.NewBadgerBackend(tmpDir, testLogger())
		Expect(err).NotTo(HaveOccurred())
		for id := 1; id <= 120; id++ {
			Expect(backend.SaveJob(ctx, persistedStatus(id))).To(Succeed())
		}
		Expect(backend.DeleteJob(ctx, 60)).To(Succeed())
		Expect(backend.Close()).To(Succeed())

		reopened, err := jobsched.NewBadgerBackend(tmpDir, testLogger())
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = reopened.Close() }()

		jobs, err := reopened.LoadJobs(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(119))
		Expect(jobs[0].JobID()).To(Equal(1))
		Expect(jobs[len(jobs)-1].JobID()).To(Equal(120))
	})
})
