//go:build sqlite
// +build sqlite

package jobsched_test

import (
	"context"
	"os"

	"github.com/VsevolodSauta/jobsched"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SQLiteBackend", func() {
	BackendTestSuite(func() (jobsched.Backend, func()) {
		tmpFile, err := os.CreateTemp("", "test_jobsched_*.db")
		Expect(err).NotTo(HaveOccurred())
		tmpFile.Close()

		backend, err := jobsched.NewSQLiteBackend(tmpFile.Name(), testLogger())
		Expect(err).NotTo(HaveOccurred())

		return backend, func() {
			_ = backend.Close()
			_ = os.Remove(tmpFile.Name())
		}
	})

	It("should serve a scheduler configured for sqlite", func() {
		dir, err := os.MkdirTemp("", "jobsched_sqlite_sched_*")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = os.RemoveAll(dir) }()

		cfg := jobsched.DefaultConfig()
		cfg.Backend = jobsched.BackendSQLite
		cfg.DataDir = dir

		sched, err := jobsched.NewScheduler(cfg, testLogger())
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = sched.Close() }()

		pending, err := sched.Pending(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})
})
