package watchdog_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/syncproxy/internal/supervisor"
	"github.com/angeloszaimis/syncproxy/internal/watchdog"
	"github.com/angeloszaimis/syncproxy/pkg/logger"
)

type fakeRecoverer struct {
	calls     atomic.Int32
	recovered bool
	err       error
}

func (f *fakeRecoverer) RecoverIfExited() (bool, error) {
	f.calls.Add(1)
	return f.recovered, f.err
}

// syncBuffer guards a bytes.Buffer read by the test while Run writes to it.
type syncBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

var _ = Describe("Run", func() {
	var (
		logs   *syncBuffer
		ctx    context.Context
		cancel context.CancelFunc
		done   chan struct{}
	)

	run := func(target watchdog.Recoverer, interval time.Duration) {
		done = make(chan struct{})
		go func() {
			defer close(done)
			watchdog.Run(ctx, target, interval, logger.NewWithWriter(logs, "debug", false, "dev"))
		}()
	}

	BeforeEach(func() {
		logs = &syncBuffer{}
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	It("should poll on every tick", func() {
		target := &fakeRecoverer{}
		run(target, 20*time.Millisecond)

		Eventually(target.calls.Load).Should(BeNumerically(">=", 3))
	})

	It("should stop when the context is cancelled", func() {
		target := &fakeRecoverer{}
		run(target, 20*time.Millisecond)

		cancel()
		Eventually(done).Should(BeClosed())
		Expect(logs.String()).To(ContainSubstring("Watchdog stopped"))

		calls := target.calls.Load()
		Consistently(target.calls.Load, 100*time.Millisecond).Should(Equal(calls))
	})

	It("should log a recovery", func() {
		run(&fakeRecoverer{recovered: true}, 20*time.Millisecond)

		Eventually(logs.String).Should(ContainSubstring("Backend recovered"))
	})

	It("should keep polling after a failed recovery", func() {
		target := &fakeRecoverer{recovered: true, err: errors.New("exec: not found")}
		run(target, 20*time.Millisecond)

		Eventually(target.calls.Load).Should(BeNumerically(">=", 2))
		Expect(logs.String()).To(ContainSubstring("Backend recovery failed"))
	})

	Context("with a real supervisor", func() {
		var sup *supervisor.Supervisor

		BeforeEach(func() {
			sup = supervisor.New(logger.Discard(), supervisor.Config{
				Command:    []string{"sh", "-c", "exec sleep 30"},
				Host:       "127.0.0.1",
				Port:       18002,
				ContentDir: GinkgoT().TempDir(),
				StopGrace:  time.Second,
				Stdout:     GinkgoWriter,
				Stderr:     GinkgoWriter,
			}, nil)
			Expect(sup.Start()).To(Succeed())
		})

		AfterEach(func() {
			Expect(sup.Shutdown()).To(Succeed())
		})

		It("should bring a killed backend back within one interval", func() {
			interval := 100 * time.Millisecond
			run(sup, interval)

			oldPID := sup.Status().PID
			Expect(unix.Kill(oldPID, unix.SIGKILL)).To(Succeed())

			Eventually(func() int {
				return sup.Status().PID
			}, 3*interval, 10*time.Millisecond).ShouldNot(Or(Equal(oldPID), BeZero()))
			Expect(sup.Alive()).To(BeTrue())
		})

		It("should leave a deliberately stopped backend down", func() {
			run(sup, 20*time.Millisecond)
			Expect(sup.Stop()).To(Succeed())

			Consistently(sup.Alive, 150*time.Millisecond).Should(BeFalse())
		})
	})
})
