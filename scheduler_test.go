package jobsched_test

import (
	"context"
	"os"
	"time"

	"github.com/VsevolodSauta/jobsched"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Scheduler", func() {
	var powerDir string

	BeforeEach(func() {
		powerDir = GinkgoT().TempDir()
	})

	newConfig := func(backend, dataDir string) *jobsched.Config {
		cfg := jobsched.DefaultConfig()
		cfg.Backend = backend
		cfg.DataDir = dataDir
		cfg.PollInterval = 50 * time.Millisecond
		cfg.NotifyInterval = 0
		cfg.PowerSupplyPath = powerDir
		return cfg
	}

	start := func(sched *jobsched.Scheduler) (context.CancelFunc, chan error) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sched.Start(ctx) }()
		return cancel, done
	}

	It("should run a scheduled job end to end", func() {
		sched, err := jobsched.NewScheduler(newConfig(jobsched.BackendMemory, ""), testLogger())
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = sched.Close() }()

		ran := make(chan int, 1)
		sched.RegisterService("sync", jobsched.JobServiceFunc(func(ctx context.Context, p jobsched.JobParameters) error {
			ran <- p.JobID
			return nil
		}))

		cancel, done := start(sched)
		Expect(sched.Schedule(&jobsched.JobInfo{ID: 42, Service: "sync", RequiresConnectivity: true, RequiresCharging: true})).To(Succeed())

		Eventually(ran, 2*time.Second).Should(Receive(Equal(42)))
		Eventually(func() ([]*jobsched.JobInfo, error) { return sched.Pending(context.Background()) }).Should(BeEmpty())
		Eventually(sched.Dispatcher().WakeLockHeld).Should(BeFalse())

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("should cancel pending jobs", func() {
		sched, err := jobsched.NewScheduler(newConfig(jobsched.BackendMemory, ""), testLogger())
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = sched.Close() }()

		cancel, done := start(sched)
		defer cancel()

		Expect(sched.Schedule(&jobsched.JobInfo{ID: 1, Service: "sync", MinLatency: time.Hour})).To(Succeed())
		Expect(sched.Schedule(&jobsched.JobInfo{ID: 2, Service: "sync", MinLatency: time.Hour})).To(Succeed())
		Expect(sched.Schedule(&jobsched.JobInfo{ID: 3, Service: "sync", MinLatency: time.Hour})).To(Succeed())
		Expect(sched.Cancel(2)).To(Succeed())
		Expect(sched.Dispatcher().Sync(context.Background())).To(Succeed())

		pending, err := sched.Pending(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(2))

		Expect(sched.CancelAll()).To(Succeed())
		Expect(sched.Dispatcher().Sync(context.Background())).To(Succeed())
		pending, err = sched.Pending(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("should restore persisted jobs from badger after a restart", func() {
		dataDir, err := os.MkdirTemp("", "jobsched_sched_*")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = os.RemoveAll(dataDir) }()

		first, err := jobsched.NewScheduler(newConfig(jobsched.BackendBadger, dataDir), testLogger())
		Expect(err).NotTo(HaveOccurred())
		cancel, done := start(first)
		Expect(first.Schedule(&jobsched.JobInfo{ID: 7, Service: "sync", Persisted: true, MinLatency: time.Hour})).To(Succeed())
		Expect(first.Schedule(&jobsched.JobInfo{ID: 8, Service: "sync", MinLatency: time.Hour})).To(Succeed())
		Expect(first.Dispatcher().Sync(context.Background())).To(Succeed())
		cancel()
		Eventually(done).Should(Receive())
		Expect(first.Close()).To(Succeed())

		second, err := jobsched.NewScheduler(newConfig(jobsched.BackendBadger, dataDir), testLogger())
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = second.Close() }()

		pending, err := second.Pending(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].ID).To(Equal(7))
		Expect(pending[0].Persisted).To(BeTrue())

		cancel, done = start(second)
		Expect(second.Dispatcher().Sync(context.Background())).To(Succeed())
		pending, err = second.Pending(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(1))
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("should reject an invalid configuration", func() {
		cfg := newConfig("etcd", "")
		_, err := jobsched.NewScheduler(cfg, testLogger())
		Expect(err).To(HaveOccurred())
	})
})
