// Package mixer reads and writes the ALSA playback level through amixer.
package mixer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrMixerUnavailable means no configured mixer control could be read or
// written.
var ErrMixerUnavailable = errors.New("mixer unavailable")

// DefaultControls is the preference order used when none is configured.
var DefaultControls = []string{"Master", "PCM", "Speaker", "Headphone"}

var levelPattern = regexp.MustCompile(`\[(\d{1,3})%\]`)

// Runner executes a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ExecRunner runs commands with os/exec.
func ExecRunner() Runner {
	return execRunner{}
}

// Mixer drives one ALSA card's playback controls.
type Mixer struct {
	runner   Runner
	card     string
	controls []string
	timeout  time.Duration
}

// New returns a mixer for card ("" for the default card). Controls are
// tried in order.
func New(runner Runner, card string, controls []string) *Mixer {
	if len(controls) == 0 {
		controls = DefaultControls
	}
	return &Mixer{
		runner:   runner,
		card:     card,
		controls: controls,
		timeout:  5 * time.Second,
	}
}

func (m *Mixer) amixer(ctx context.Context, args ...string) ([]byte, error) {
	if m.card != "" {
		args = append([]string{"-c", m.card}, args...)
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.runner.Run(ctx, "amixer", args...)
}

// GetVolume returns the level of the first control that answers.
func (m *Mixer) GetVolume(ctx context.Context) (int, error) {
	for _, control := range m.controls {
		out, err := m.amixer(ctx, "sget", control)
		if err != nil {
			log.Printf("MIXER: Could not read %s: %v", control, err)
			continue
		}
		level, ok := parseLevel(out)
		if !ok {
			continue
		}
		return level, nil
	}
	return 0, fmt.Errorf("read volume from %s: %w", strings.Join(m.controls, ", "), ErrMixerUnavailable)
}

// SetVolume clamps level to [0,100] and writes it to every control that
// exists. It returns the level actually written.
func (m *Mixer) SetVolume(ctx context.Context, level int) (int, error) {
	level = Clamp(level)
	ok := false
	for _, control := range m.controls {
		if _, err := m.amixer(ctx, "sset", control, strconv.Itoa(level)+"%"); err != nil {
			log.Printf("MIXER: Could not set %s: %v", control, err)
			continue
		}
		ok = true
	}
	if !ok {
		return 0, fmt.Errorf("set volume to %d%%: %w", level, ErrMixerUnavailable)
	}
	log.Printf("MIXER: Volume set to %d%%", level)
	return level, nil
}

// Clamp bounds level to [0,100].
func Clamp(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

// parseLevel extracts the first "[NN%]" from a playback line of amixer
// sget output.
func parseLevel(out []byte) (int, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "Playback") {
			continue
		}
		match := levelPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		level, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		return Clamp(level), true
	}
	return 0, false
}
