// Package supervisor implements the Supervisor Loop: the single-threaded
// event consumer that owns the brood, applies the Worker Record state
// machine's transitions, and produces every side effect (spawning,
// signaling, scheduling). Nothing outside this package ever mutates a
// Record or the brood map.
package supervisor

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ankit-kulkarni/einhornd/internal/config"
	"github.com/ankit-kulkarni/einhornd/internal/control"
	"github.com/ankit-kulkarni/einhornd/internal/observability"
	"github.com/ankit-kulkarni/einhornd/internal/socketprep"
	"github.com/ankit-kulkarni/einhornd/internal/timer"
	"github.com/ankit-kulkarni/einhornd/internal/worker"
)

// Supervisor owns the brood and the running worker-count configuration. It
// is constructed once by bootstrap and run to completion by Run.
type Supervisor struct {
	cfg      *config.Config
	template *socketprep.Template
	timerSvc *timer.Service
	signals  <-chan os.Signal
	jobs     <-chan control.Job

	log *logrus.Entry

	brood        map[int]*worker.Record
	targetCount  int
	run          bool
	manualAck    bool
	shuttingDown bool
}

// New constructs a Supervisor. It performs no side effects beyond the
// allocation of the brood map — spawning the initial brood happens in Run,
// which logs a failed startup spawn and carries on with the workers that
// did start.
func New(cfg *config.Config, template *socketprep.Template, timerSvc *timer.Service, signals <-chan os.Signal, jobs <-chan control.Job, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		template:    template,
		timerSvc:    timerSvc,
		signals:     signals,
		jobs:        jobs,
		log:         log,
		brood:       make(map[int]*worker.Record),
		targetCount: cfg.Count,
		manualAck:   cfg.ManualAck,
	}
}

// Run spawns the initial brood and then services events until run becomes
// false and every child has been drained.
func (s *Supervisor) Run() error {
	s.run = true

	for i := 0; i < s.targetCount; i++ {
		if err := s.spawnInto(0, 0); err != nil {
			s.log.WithError(err).Error("startup spawn failed")
		}
	}

	for s.run {
		select {
		case ev := <-s.timerSvc.Events():
			s.handleTimer(ev)
		case job := <-s.jobs:
			s.handleJob(job)
		case sig := <-s.signals:
			s.handleSignal(sig)
		}
	}

	s.drain()
	return nil
}

// spawnInto spawns a worker, inserts it into the brood, and schedules its
// check-alive deadline at now + childhood.
func (s *Supervisor) spawnInto(replaces int, attempts int) error {
	rec, err := worker.Spawn(s.template, replaces, attempts)
	if err != nil {
		return err
	}
	s.brood[rec.Pid] = rec
	rec.ScheduleCheck(s.timerSvc, timer.CheckAlive, s.cfg.Childhood)
	s.log.WithFields(logrus.Fields{"pid": rec.Pid, "replaces": replaces, "attempts": attempts}).Info("spawned worker")
	return nil
}

// --- timer handling ---

func (s *Supervisor) handleTimer(ev timer.Event) {
	rec, ok := s.brood[ev.Pid]
	if !ok {
		s.log.WithField("pid", ev.Pid).Debug("timer event for unknown/reaped pid, ignoring")
		return
	}

	switch ev.Kind {
	case timer.CheckAlive:
		s.handleCheckAlive(rec)
	case timer.CheckShutdown:
		if rec.IsActive() {
			s.terminate(rec)
		}
	case timer.CheckTerminated:
		if rec.IsActive() {
			_ = rec.Signal(syscall.SIGKILL)
			rec.State = worker.Dead
		}
	}
}

func (s *Supervisor) handleCheckAlive(rec *worker.Record) {
	if rec.State != worker.Infancy {
		return
	}

	if !s.manualAck {
		rec.State = worker.Healthy
		s.log.WithField("pid", rec.Pid).Info("worker promoted to healthy")
		if rec.Replaces != 0 {
			s.shutdownPid(rec.Replaces)
			rec.Replaces = 0
		}
		return
	}

	// manual-ack ON: the worker failed to ack within childhood.
	if rec.Attempts+1 < s.cfg.Retries {
		if err := s.spawnInto(0, rec.Attempts+1); err != nil {
			s.log.WithError(err).Error("respawn after missed ack failed")
		}
	} else {
		s.log.WithField("pid", rec.Pid).Warn("out of retries")
	}
	s.terminate(rec)
}

// --- control job handling ---

func (s *Supervisor) handleJob(job control.Job) {
	reply := s.dispatch(job.Request)
	job.Reply <- reply
}

func (s *Supervisor) dispatch(req control.Request) string {
	switch req.Command {
	case "ehlo":
		return control.EncodeReply("einhornd")
	case "help":
		return control.EncodeReply(helpText)
	case "version":
		return control.EncodeReply(Version)
	case "inc":
		return s.cmdInc()
	case "dec":
		return s.cmdDec()
	case "upgrade":
		return s.cmdUpgrade()
	case "die", "shutdown":
		return s.cmdShutdown()
	case "signal":
		return s.cmdSignal(req.Args)
	case "status":
		return s.cmdStatus()
	case "worker:ack":
		return s.cmdAck(req, req.Args)
	default:
		return control.EncodeReply(fmt.Sprintf("Error: unknown command %q", req.Command))
	}
}

const helpText = "commands: ehlo, help, version, inc, dec, upgrade, die, shutdown, signal SIG, status, worker:ack PID"

// Version is the supervisor's reported version string.
const Version = "einhornd 1.0"

func (s *Supervisor) cmdInc() string {
	old := s.targetCount
	s.targetCount++
	if err := s.spawnInto(0, 0); err != nil {
		s.targetCount = old
		return control.EncodeReply(fmt.Sprintf("Error: spawn failed: %v", err))
	}
	return control.EncodeReply(fmt.Sprintf("Spawned! Went from %d to %d", old, s.targetCount))
}

func (s *Supervisor) cmdDec() string {
	if s.targetCount == 0 {
		return control.EncodeReply("No live workers to remove")
	}
	victim := s.pickActiveWorker()
	if victim == nil {
		return control.EncodeReply("No live workers to remove")
	}
	old := s.targetCount
	s.targetCount--
	s.shutdown(victim)
	return control.EncodeReply(fmt.Sprintf("Notified! Went from %d to %d", old, s.targetCount))
}

func (s *Supervisor) cmdUpgrade() string {
	for pid, rec := range s.brood {
		if !rec.IsActive() {
			continue
		}
		if err := s.spawnInto(pid, 0); err != nil {
			s.log.WithError(err).WithField("pid", pid).Error("upgrade respawn failed")
		}
	}
	return control.EncodeReply("Upgrading all children!")
}

func (s *Supervisor) cmdShutdown() string {
	for _, rec := range s.brood {
		if rec.IsActive() {
			s.shutdown(rec)
		}
	}
	s.run = false
	return control.EncodeReply("Sent shutdown to all children!")
}

func (s *Supervisor) cmdSignal(args []string) string {
	if len(args) == 0 {
		return control.EncodeReply("Error: signal command requires a signal name")
	}
	sig, err := parseSignalName(args[0])
	if err != nil {
		return control.EncodeReply(fmt.Sprintf("Error: %v", err))
	}
	for _, rec := range s.brood {
		if rec.IsActive() {
			if err := rec.Signal(sig); err != nil {
				s.log.WithError(err).WithField("pid", rec.Pid).Warn("signal delivery failed")
			}
		}
	}
	return control.EncodeReply("Signalled all children!")
}

func (s *Supervisor) cmdAck(req control.Request, args []string) string {
	pid := int(req.Pid)
	if pid == 0 && len(args) > 0 {
		fmt.Sscanf(args[0], "%d", &pid)
	}
	rec, ok := s.brood[pid]
	if !ok || rec.State != worker.Infancy {
		return control.EncodeReply(fmt.Sprintf("Error: no infant worker with pid %d", pid))
	}
	rec.State = worker.Healthy
	s.log.WithField("pid", pid).Info("worker acked")
	if rec.Replaces != 0 {
		s.shutdownPid(rec.Replaces)
		rec.Replaces = 0
	}
	return control.EncodeReply("Acknowledged!")
}

func (s *Supervisor) cmdStatus() string {
	type workerStatus struct {
		Pid        int     `json:"pid"`
		State      string  `json:"state"`
		Attempts   int     `json:"attempts"`
		Replaces   int     `json:"replaces"`
		RSSBytes   uint64  `json:"rss_bytes"`
		CPUPercent float64 `json:"cpu_percent"`
	}
	type statusReply struct {
		Run         bool           `json:"run"`
		TargetCount int            `json:"target_count"`
		Workers     []workerStatus `json:"workers"`
	}

	resp := statusReply{Run: s.run, TargetCount: s.targetCount, Workers: make([]workerStatus, 0, len(s.brood))}
	for _, rec := range s.brood {
		snap := observability.Sample(rec.Pid)
		resp.Workers = append(resp.Workers, workerStatus{
			Pid:        rec.Pid,
			State:      rec.State.String(),
			Attempts:   rec.Attempts,
			Replaces:   rec.Replaces,
			RSSBytes:   snap.RSSBytes,
			CPUPercent: snap.CPUPercent,
		})
	}
	return control.EncodeReply(resp)
}

// --- signal handling ---

func (s *Supervisor) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGCHLD:
		s.reapAll()
	case syscall.SIGHUP:
		s.rollingRestart()
	case syscall.SIGTTIN, syscall.SIGTTOU, syscall.SIGUSR1, syscall.SIGSTOP, syscall.SIGCONT:
		s.forwardAll(sig.(syscall.Signal))
	case syscall.SIGINT, syscall.SIGUSR2:
		s.gracefulShutdownAll()
	case syscall.SIGTERM, syscall.SIGQUIT:
		s.terminateAll()
	default:
		s.log.WithField("signal", sig).Info("ignoring unhandled signal")
	}
}

func (s *Supervisor) reapAll() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil {
			if err == syscall.ECHILD {
				s.run = false
			}
			return
		}
		if pid <= 0 {
			return
		}
		s.reapOne(pid)
	}
}

func (s *Supervisor) reapOne(pid int) {
	rec, ok := s.brood[pid]
	if !ok {
		return
	}
	if rec.Guard != nil {
		rec.Guard.Cancel()
	}
	prevState := rec.State
	delete(s.brood, pid)

	switch prevState {
	case worker.Infancy:
		if rec.Attempts+1 < s.cfg.Retries {
			if err := s.spawnInto(0, rec.Attempts+1); err != nil {
				s.log.WithError(err).Error("respawn after infancy crash failed")
			}
		} else {
			s.log.WithField("pid", pid).Warn("out of retries")
		}
	case worker.Healthy:
		if err := s.spawnInto(pid, 0); err != nil {
			s.log.WithError(err).Error("respawn after healthy crash failed")
		}
	case worker.Notified:
		// expected; no action.
	case worker.Dead:
		s.log.WithField("pid", pid).Warn("double-notified death")
	}
}

func (s *Supervisor) rollingRestart() {
	for pid, rec := range s.brood {
		if rec.IsActive() {
			if err := s.spawnInto(pid, 0); err != nil {
				s.log.WithError(err).WithField("pid", pid).Error("rolling restart respawn failed")
			}
		}
	}
}

func (s *Supervisor) forwardAll(sig syscall.Signal) {
	for _, rec := range s.brood {
		if rec.IsActive() {
			if err := rec.Signal(sig); err != nil {
				s.log.WithError(err).WithField("pid", rec.Pid).Warn("signal delivery failed")
			}
		}
	}
}

func (s *Supervisor) gracefulShutdownAll() {
	for _, rec := range s.brood {
		if rec.IsActive() {
			s.shutdown(rec)
		}
	}
	s.run = false
}

func (s *Supervisor) terminateAll() {
	for _, rec := range s.brood {
		if rec.IsActive() {
			s.terminate(rec)
		}
	}
	s.run = false
}

// --- state machine transitions ---

func (s *Supervisor) shutdownPid(pid int) {
	if rec, ok := s.brood[pid]; ok && rec.IsActive() {
		s.shutdown(rec)
	}
}

// shutdown moves an active worker to Notified via a graceful signal and
// schedules the check-shutdown escalation deadline.
func (s *Supervisor) shutdown(rec *worker.Record) {
	_ = rec.Signal(syscall.SIGUSR2)
	rec.State = worker.Notified
	rec.ScheduleCheck(s.timerSvc, timer.CheckShutdown, s.cfg.Grace)
}

// terminate moves an active worker to Notified via SIGTERM and schedules the
// check-terminated escalation deadline.
func (s *Supervisor) terminate(rec *worker.Record) {
	_ = rec.Signal(syscall.SIGTERM)
	rec.State = worker.Notified
	rec.ScheduleCheck(s.timerSvc, timer.CheckTerminated, s.cfg.Grace)
}

// pickActiveWorker returns an arbitrary active worker for `dec`. No
// stronger fairness than Go's map iteration order is required or
// guaranteed.
func (s *Supervisor) pickActiveWorker() *worker.Record {
	for _, rec := range s.brood {
		if rec.IsActive() {
			return rec
		}
	}
	return nil
}

// drain waits for remaining children with non-blocking wait attempts. It
// does not block indefinitely: once every record the supervisor still
// tracks is quiescent, or ECHILD is observed, it returns.
func (s *Supervisor) drain() {
	deadline := time.Now().Add(30 * time.Second)
	for len(s.brood) > 0 && time.Now().Before(deadline) {
		s.reapAll()
		if len(s.brood) == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func parseSignalName(name string) (syscall.Signal, error) {
	switch name {
	case "HUP":
		return syscall.SIGHUP, nil
	case "INT":
		return syscall.SIGINT, nil
	case "TERM":
		return syscall.SIGTERM, nil
	case "TTIN":
		return syscall.SIGTTIN, nil
	case "TTOU":
		return syscall.SIGTTOU, nil
	case "KILL":
		return syscall.SIGKILL, nil
	case "USR1":
		return syscall.SIGUSR1, nil
	case "USR2":
		return syscall.SIGUSR2, nil
	case "STOP":
		return syscall.SIGSTOP, nil
	case "CONT":
		return syscall.SIGCONT, nil
	default:
		return 0, fmt.Errorf("unknown signal %q", name)
	}
}
