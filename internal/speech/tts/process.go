package tts

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"
)

// processEngine narrates by running one command line synthesizer process
// per utterance. Such tools cannot report word boundaries, so they are
// paced from the configured words per minute.
type processEngine struct {
	listeners

	name    string
	wpm     int
	command func(u Utterance) *exec.Cmd

	mutex   sync.Mutex
	current *processRun
}

type processRun struct {
	id     uint64
	cmd    *exec.Cmd
	pacer  *pacer
	paused bool
}

func (p *processEngine) Speak(u Utterance) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	// the host speaks one utterance at a time
	if err := p.killLocked(); err != nil {
		logrus.WithError(err).WithField("engine", p.name).Warn("Failed to stop previous utterance")
	}

	cmd := p.command(u)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.name, err)
	}

	run := &processRun{id: u.ID, cmd: cmd}
	run.pacer = startPacer(u.Text, wordInterval(p.wpm, u.Rate),
		func(idx int) { p.boundary(run, idx) }, nil)
	p.current = run

	go p.wait(run)
	return nil
}

// wait reports the end of a run unless it was cancelled first
func (p *processEngine) wait(run *processRun) {
	err := run.cmd.Wait()
	run.pacer.Stop()

	p.mutex.Lock()
	natural := p.current == run
	if natural {
		p.current = nil
	}
	p.mutex.Unlock()

	if !natural {
		return
	}
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"engine":    p.name,
			"utterance": run.id,
		}).Warn("Speech process exited with error")
	}
	p.listeners.end(run.id)
}

func (p *processEngine) boundary(run *processRun, idx int) {
	p.mutex.Lock()
	live := p.current == run
	p.mutex.Unlock()
	if live {
		p.listeners.boundary(run.id, idx)
	}
}

func (p *processEngine) Cancel(id uint64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.current == nil || p.current.id != id {
		return nil
	}
	return p.killLocked()
}

// killLocked must be called with p.mutex held
func (p *processEngine) killLocked() error {
	run := p.current
	if run == nil {
		return nil
	}
	p.current = nil
	run.pacer.Stop()

	if run.cmd.Process == nil {
		return nil
	}
	if run.paused {
		// a stopped process still dies on SIGKILL, but continue it so the
		// audio device is released promptly
		_ = resumeProcess(run.cmd)
	}
	if err := run.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *processEngine) Pause(id uint64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	run := p.current
	if run == nil || run.id != id || run.paused {
		return nil
	}

	if err := pauseProcess(run.cmd); err != nil {
		return err
	}
	run.paused = true
	run.pacer.Pause()
	return nil
}

func (p *processEngine) Resume(id uint64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	run := p.current
	if run == nil || run.id != id || !run.paused {
		return nil
	}

	if err := resumeProcess(run.cmd); err != nil {
		return err
	}
	run.paused = false
	run.pacer.Resume()
	return nil
}

func (p *processEngine) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.killLocked()
}
