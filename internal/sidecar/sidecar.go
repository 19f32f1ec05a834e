package sidecar

import (
	"bufio"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/deskwright/shellcore/internal/env"
	"github.com/deskwright/shellcore/internal/logger"
	"github.com/deskwright/shellcore/internal/metrics"
)

// Spec describes one long-running sidecar service. Command is a fixed,
// trusted argument vector decided at build/config time, never user input, so
// it deliberately bypasses the command validator.
type Spec struct {
	Name        string
	Command     []string
	WorkDir     string
	Env         []string // extra KEY=VALUE merged over the controlled base env
	ReadyMarker string   // substring watched for in the sidecar's stdout
	HealthURL   string   // optional HTTP health endpoint; either signal flips readiness
	Log         logger.Config
}

// Bootstrapper spawns the sidecars once at application start, recovers from
// an unclean prior shutdown, and maintains the on-disk pid/status artifacts
// the startup sequencer polls.
type Bootstrapper struct {
	artifacts Artifacts
	envM      *env.Env
	grace     time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	procs map[string]*sideProc
}

type sideProc struct {
	spec      Spec
	cmd       *exec.Cmd
	done      chan struct{} // closed when the reaper observes exit
	stop      chan struct{} // closed on Shutdown; ends the health poll
	scanDone  chan struct{} // closed when the stdout watcher has drained the pipe
	readyOnce sync.Once
	closers   []io.Closer
}

func NewBootstrapper(dir string, envM *env.Env, grace time.Duration, lg *slog.Logger) *Bootstrapper {
	if envM == nil {
		envM = env.New()
	}
	if grace <= 0 {
		grace = 3 * time.Second
	}
	if lg == nil {
		lg = slog.Default()
	}
	return &Bootstrapper{
		artifacts: Artifacts{Dir: dir},
		envM:      envM,
		grace:     grace,
		logger:    lg,
		procs:     make(map[string]*sideProc),
	}
}

// Artifacts exposes the artifact accessor for the startup sequencer.
func (b *Bootstrapper) Artifacts() Artifacts { return b.artifacts }

// Start launches every spec in the background and returns immediately.
// Failures are logged, not returned: the application must come up even when
// a sidecar cannot.
func (b *Bootstrapper) Start(specs ...Spec) {
	for _, sp := range specs {
		go b.launch(sp)
	}
}

func (b *Bootstrapper) launch(sp Spec) {
	b.recoverStale(sp.Name)

	if len(sp.Command) == 0 {
		b.logger.Error("sidecar spec has no command", "sidecar", sp.Name)
		return
	}
	if err := b.artifacts.WriteStatus(sp.Name, StatusStarting); err != nil {
		b.logger.Error("cannot write sidecar status artifact", "sidecar", sp.Name, "error", err)
		return
	}
	metrics.SetSidecarReady(sp.Name, false)

	// #nosec G204 -- fixed trusted invocation, not user input
	cmd := exec.Command(sp.Command[0], sp.Command[1:]...)
	if sp.WorkDir != "" {
		cmd.Dir = sp.WorkDir
	}
	cmd.Env = b.envM.Merge(sp.Env)
	groupAttr(cmd)

	p := &sideProc{
		spec:     sp,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		scanDone: make(chan struct{}),
	}

	outW, errW, _ := sp.Log.Writers(sp.Name)
	if outW != nil {
		p.closers = append(p.closers, outW)
	}
	if errW != nil {
		p.closers = append(p.closers, errW)
		cmd.Stderr = errW
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		b.logger.Error("sidecar stdout pipe failed", "sidecar", sp.Name, "error", err)
		return
	}

	if err := cmd.Start(); err != nil {
		b.logger.Error("sidecar spawn failed", "sidecar", sp.Name, "error", err)
		b.artifacts.Remove(sp.Name)
		return
	}
	p.cmd = cmd
	if err := b.artifacts.WritePID(sp.Name, cmd.Process.Pid); err != nil {
		b.logger.Error("cannot write sidecar pid artifact", "sidecar", sp.Name, "error", err)
	}
	b.mu.Lock()
	b.procs[sp.Name] = p
	b.mu.Unlock()
	b.logger.Info("sidecar started", "sidecar", sp.Name, "pid", cmd.Process.Pid)

	go b.watchStdout(p, stdout, outW)
	if sp.HealthURL != "" {
		go b.pollHealth(p)
	}
	go b.reap(p)
}

// recoverStale handles leftovers of an unclean prior shutdown: a recorded pid
// still alive is assumed to be an orphaned instance and is terminated before
// the fresh spawn; stale artifacts are always removed.
func (b *Bootstrapper) recoverStale(name string) {
	pid, err := b.artifacts.ReadPID(name)
	if err != nil {
		b.logger.Warn("unreadable sidecar pid artifact", "sidecar", name, "error", err)
	}
	if pid > 0 && pidAlive(pid) {
		b.logger.Warn("terminating orphaned sidecar from previous run", "sidecar", name, "pid", pid)
		_ = signalGroup(pid, sigGraceful)
		deadline := time.Now().Add(b.grace)
		for time.Now().Before(deadline) && pidAlive(pid) {
			time.Sleep(50 * time.Millisecond)
		}
		if pidAlive(pid) {
			_ = signalGroup(pid, sigForceful)
		}
	}
	b.artifacts.Remove(name)
}

// watchStdout tees sidecar stdout into its rotating log file while scanning
// for the readiness marker. It reads until EOF and then signals the reaper;
// Wait must not run before the pipe is drained or buffered output is lost.
func (b *Bootstrapper) watchStdout(p *sideProc, r io.Reader, logW io.Writer) {
	defer close(p.scanDone)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if logW != nil {
			_, _ = io.WriteString(logW, line+"\n")
		}
		if p.spec.ReadyMarker != "" && strings.Contains(line, p.spec.ReadyMarker) {
			b.markReady(p)
		}
	}
}

// pollHealth probes the sidecar's health endpoint at a fixed interval until
// readiness is observed or the sidecar goes away.
func (b *Bootstrapper) pollHealth(p *sideProc) {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-p.done:
			return
		case <-t.C:
			if probeHealth(p.spec.HealthURL) {
				b.markReady(p)
				return
			}
		}
	}
}

// markReady flips the readiness artifact exactly once per sidecar lifetime,
// regardless of which signal (stdout marker or health probe) fired first.
func (b *Bootstrapper) markReady(p *sideProc) {
	p.readyOnce.Do(func() {
		if err := b.artifacts.WriteStatus(p.spec.Name, StatusReady); err != nil {
			b.logger.Error("cannot write sidecar ready artifact", "sidecar", p.spec.Name, "error", err)
			return
		}
		metrics.SetSidecarReady(p.spec.Name, true)
		b.logger.Info("sidecar ready", "sidecar", p.spec.Name)
	})
}

func (b *Bootstrapper) reap(p *sideProc) {
	<-p.scanDone
	err := p.cmd.Wait()
	close(p.done)
	for _, c := range p.closers {
		_ = c.Close()
	}
	if err != nil {
		b.logger.Warn("sidecar exited", "sidecar", p.spec.Name, "error", err)
	} else {
		b.logger.Info("sidecar exited", "sidecar", p.spec.Name)
	}
	metrics.SetSidecarReady(p.spec.Name, false)
}

// WaitReady polls the status artifacts for the given sidecar names at a fixed
// interval until all report ready or the window elapses. The window is a soft
// timeout: on expiry WaitReady returns false and callers log the degraded
// condition and proceed.
func (b *Bootstrapper) WaitReady(names []string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		allReady := true
		for _, n := range names {
			st, _ := b.artifacts.ReadStatus(n)
			if st != StatusReady {
				allReady = false
				break
			}
		}
		if allReady {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// Shutdown gracefully terminates all running sidecars and removes their
// artifacts. Stragglers get the forceful signal after the grace period.
func (b *Bootstrapper) Shutdown() {
	b.mu.Lock()
	procs := make([]*sideProc, 0, len(b.procs))
	for _, p := range b.procs {
		procs = append(procs, p)
	}
	b.procs = make(map[string]*sideProc)
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *sideProc) {
			defer wg.Done()
			close(p.stop)
			if p.cmd != nil && p.cmd.Process != nil {
				pid := p.cmd.Process.Pid
				_ = signalGroup(pid, sigGraceful)
				select {
				case <-p.done:
				case <-time.After(b.grace):
					_ = signalGroup(pid, sigForceful)
					select {
					case <-p.done:
					case <-time.After(2 * time.Second):
						b.logger.Error("sidecar did not exit after forceful termination", "sidecar", p.spec.Name)
					}
				}
			}
			b.artifacts.Remove(p.spec.Name)
		}(p)
	}
	wg.Wait()
}
