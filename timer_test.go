package jobsched_test

import (
	"time"

	"github.com/VsevolodSauta/jobsched"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ClockTimers", func() {
	var (
		fired  chan struct{}
		timers *jobsched.ClockTimers
	)

	BeforeEach(func() {
		fired = make(chan struct{}, 16)
		timers = jobsched.NewClockTimers(func() { fired <- struct{}{} }, testLogger())
	})

	AfterEach(func() {
		timers.Stop()
	})

	status := func(id int, earliest, latest time.Time) *jobsched.JobStatus {
		return &jobsched.JobStatus{
			Job:             &jobsched.JobInfo{ID: id, Service: "s"},
			EarliestRunTime: earliest,
			LatestRunTime:   latest,
		}
	}

	It("should fire immediately for a job already past its earliest run time", func() {
		timers.Arm(status(1, time.Now().Add(-time.Minute), time.Time{}))
		Eventually(fired).Should(Receive())
		Eventually(timers.Armed).Should(BeZero())
	})

	It("should fire at the earliest run time", func() {
		start := time.Now()
		timers.Arm(status(1, start.Add(50*time.Millisecond), time.Time{}))
		Eventually(fired).Should(Receive())
		Expect(time.Since(start)).To(BeNumerically(">=", 50*time.Millisecond))
	})

	It("should fire again at the deadline", func() {
		now := time.Now()
		timers.Arm(status(1, now.Add(20*time.Millisecond), now.Add(80*time.Millisecond)))
		Eventually(fired).Should(Receive())
		Expect(timers.Armed()).To(Equal(1))
		Eventually(fired).Should(Receive())
		Eventually(timers.Armed).Should(BeZero())
	})

	It("should not fire after Disarm", func() {
		timers.Arm(status(1, time.Now().Add(50*time.Millisecond), time.Time{}))
		timers.Disarm(1)
		timers.Disarm(2)
		Consistently(fired, 150*time.Millisecond).ShouldNot(Receive())
	})

	It("should replace the timer when a job is armed again", func() {
		timers.Arm(status(1, time.Now().Add(30*time.Millisecond), time.Time{}))
		timers.Arm(status(1, time.Now().Add(time.Hour), time.Time{}))
		Expect(timers.Armed()).To(Equal(1))
		Consistently(fired, 100*time.Millisecond).ShouldNot(Receive())
	})
})

var _ = Describe("NextWakeup", func() {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	It("should use the earliest run time when it is in the future", func() {
		js := &jobsched.JobStatus{Job: &jobsched.JobInfo{ID: 1}, EarliestRunTime: now.Add(time.Minute)}
		Expect(jobsched.NextWakeup(js, now)).To(Equal(now.Add(time.Minute)))
	})

	It("should use now for eligible jobs", func() {
		js := &jobsched.JobStatus{Job: &jobsched.JobInfo{ID: 1}}
		Expect(jobsched.NextWakeup(js, now)).To(Equal(now))
	})
})
