package player

import (
	"log"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Process is a running decoder.
type Process interface {
	// Wait blocks until the decoder exits. A non-nil error means it did not
	// finish the track cleanly.
	Wait() error
	// Kill terminates the decoder and anything it spawned.
	Kill() error
}

// Launcher starts a decoder for one file.
type Launcher interface {
	Launch(path string) (Process, error)
}

// ExecLauncher runs mpg123 for MP3 files and ffplay for everything else.
type ExecLauncher struct {
	// Device is the ALSA device handed to mpg123, e.g. "plughw:Headphones".
	Device string
}

func (l ExecLauncher) Launch(path string) (Process, error) {
	name, args := decoderCommand(path, l.Device)
	cmd := exec.Command(name, args...)
	// Own process group so Kill reaches helpers the decoder forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	log.Printf("PLAYER: Started %s (pid %d) for %s", name, cmd.Process.Pid, filepath.Base(path))
	return &execProcess{cmd: cmd}, nil
}

func decoderCommand(path, device string) (string, []string) {
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		if device == "" {
			device = "default"
		}
		return "mpg123", []string{"-q", "-o", "alsa", "-a", device, path}
	}
	return "ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "quiet", path}
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Kill() error {
	pgid, err := unix.Getpgid(p.cmd.Process.Pid)
	if err != nil {
		return p.cmd.Process.Kill()
	}
	return unix.Kill(-pgid, unix.SIGKILL)
}
