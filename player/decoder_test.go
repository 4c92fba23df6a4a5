package player

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"testing"
)

// processAlive reports whether pid exists and is not a zombie. A killed
// grandchild may linger as a zombie until init reaps it; it no longer
// holds the sound card, so it counts as gone.
func processAlive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	stat := string(data)
	i := strings.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	state := stat[i+2]
	return state != 'Z' && state != 'X'
}

func TestExecProcessKillReachesForkedChildren(t *testing.T) {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("procfs not available")
	}

	// The shell stands in for a decoder that forks a helper.
	cmd := exec.Command("sh", "-c", "sleep 300 & echo $!; wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe failed: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	proc := &execProcess{cmd: cmd}

	line, err := bufio.NewReader(stdout).ReadString('\n')
	if err != nil {
		proc.Kill()
		proc.Wait()
		t.Fatalf("Could not read helper pid: %v", err)
	}
	child, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		proc.Kill()
		proc.Wait()
		t.Fatalf("Invalid helper pid %q: %v", line, err)
	}
	if !processAlive(child) {
		proc.Kill()
		proc.Wait()
		t.Fatalf("Helper %d not running before Kill", child)
	}

	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if err := proc.Wait(); err == nil {
		t.Error("Expected Wait to report the kill")
	}

	waitFor(t, "forked helper to die", func() bool { return !processAlive(child) })
}

func TestExecLauncherMissingDecoder(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	for _, path := range []string{"/media/usb/a.mp3", "/media/usb/b.flac"} {
		proc, err := ExecLauncher{Device: "default"}.Launch(path)
		if err == nil {
			proc.Kill()
			proc.Wait()
			t.Errorf("Launch(%s): expected an error without a decoder on PATH", path)
			continue
		}
		if !errors.Is(err, exec.ErrNotFound) {
			t.Errorf("Launch(%s): expected exec.ErrNotFound, got %v", path, err)
		}
	}
}
