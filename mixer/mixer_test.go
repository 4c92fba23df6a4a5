package mixer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
)

// fakeAmixer emulates amixer for a card that has some of the controls.
type fakeAmixer struct {
	levels map[string]int
	calls  []string
}

func newFakeAmixer(controls ...string) *fakeAmixer {
	f := &fakeAmixer{levels: make(map[string]int)}
	for _, c := range controls {
		f.levels[c] = 50
	}
	return f
}

func (f *fakeAmixer) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if name != "amixer" {
		return nil, fmt.Errorf("unexpected command %s", name)
	}
	if len(args) > 1 && args[0] == "-c" {
		args = args[2:]
	}
	control := args[1]
	level, ok := f.levels[control]
	if !ok {
		return nil, errors.New("exit status 1")
	}
	switch args[0] {
	case "sget":
		out := fmt.Sprintf("Simple mixer control '%s',0\n  Capabilities: pvolume pvolume-joined pswitch\n  Playback channels: Mono\n  Limits: Playback -10239 - 400\n  Mono: Playback -2000 [%d%%] [-20.00dB] [on]\n", control, level)
		return []byte(out), nil
	case "sset":
		n, err := strconv.Atoi(strings.TrimSuffix(args[2], "%"))
		if err != nil {
			return nil, err
		}
		f.levels[control] = n
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected amixer command %s", args[0])
}

func TestSetGetRoundTrip(t *testing.T) {
	m := New(newFakeAmixer("PCM", "Headphone"), "", nil)
	ctx := context.Background()

	for _, v := range []int{0, 1, 37, 50, 99, 100} {
		if _, err := m.SetVolume(ctx, v); err != nil {
			t.Fatalf("SetVolume(%d) failed: %v", v, err)
		}
		got, err := m.GetVolume(ctx)
		if err != nil {
			t.Fatalf("GetVolume failed: %v", err)
		}
		if got != v {
			t.Errorf("SetVolume(%d) then GetVolume() = %d", v, got)
		}
	}
}

func TestSetVolumeClamps(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{in: -1, want: 0},
		{in: -500, want: 0},
		{in: 101, want: 100},
		{in: 1000, want: 100},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.in), func(t *testing.T) {
			m := New(newFakeAmixer("Master"), "", nil)
			written, err := m.SetVolume(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("SetVolume(%d) failed: %v", tt.in, err)
			}
			if written != tt.want {
				t.Errorf("Expected %d written, got %d", tt.want, written)
			}
			got, _ := m.GetVolume(context.Background())
			if got != tt.want {
				t.Errorf("Expected mixer at %d, got %d", tt.want, got)
			}
		})
	}
}

func TestSetVolumeWritesEveryControl(t *testing.T) {
	amixer := newFakeAmixer("Master", "Speaker")
	m := New(amixer, "", nil)

	if _, err := m.SetVolume(context.Background(), 70); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}
	if amixer.levels["Master"] != 70 || amixer.levels["Speaker"] != 70 {
		t.Errorf("Expected both controls at 70, got %v", amixer.levels)
	}
}

func TestMixerUnavailable(t *testing.T) {
	m := New(newFakeAmixer(), "", []string{"Master", "PCM"})

	if _, err := m.GetVolume(context.Background()); !errors.Is(err, ErrMixerUnavailable) {
		t.Errorf("GetVolume: expected ErrMixerUnavailable, got %v", err)
	}
	if _, err := m.SetVolume(context.Background(), 40); !errors.Is(err, ErrMixerUnavailable) {
		t.Errorf("SetVolume: expected ErrMixerUnavailable, got %v", err)
	}
}

func TestCardArgument(t *testing.T) {
	amixer := newFakeAmixer("PCM")
	m := New(amixer, "1", []string{"PCM"})

	if _, err := m.GetVolume(context.Background()); err != nil {
		t.Fatalf("GetVolume failed: %v", err)
	}
	if len(amixer.calls) != 1 || amixer.calls[0] != "amixer -c 1 sget PCM" {
		t.Errorf("Unexpected amixer invocation: %v", amixer.calls)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want int
		ok   bool
	}{
		{name: "mono", out: "  Mono: Playback -2000 [75%] [-20.00dB] [on]", want: 75, ok: true},
		{name: "stereo", out: "  Front Left: Playback 52 [82%] [on]\n  Front Right: Playback 52 [80%] [on]", want: 82, ok: true},
		{name: "capture only", out: "  Mono: Capture 20 [33%] [on]", ok: false},
		{name: "empty", out: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseLevel([]byte(tt.out))
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseLevel = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}
