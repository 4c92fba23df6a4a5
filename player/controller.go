// Package player plays audio files from a mounted USB volume through a
// single external decoder process.
package player

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/btreceiver/btreceiverd/store"
)

var (
	ErrNoMediaMounted   = errors.New("no USB media mounted")
	ErrEmptyTrackList   = errors.New("no audio files found on USB media")
	ErrNoPlayableTracks = errors.New("no playable tracks on USB media")
	ErrNotPlaying       = errors.New("not playing")
)

// State is the controller's state machine position.
type State int

const (
	Idle State = iota
	Ready
	Playing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	}
	return "unknown"
}

// Sink is the Bluetooth audio output that must be silenced while USB
// playback owns the sound card.
type Sink interface {
	Suppress(ctx context.Context) error
	Restore(ctx context.Context) error
}

// StateStore persists where playback left off.
type StateStore interface {
	LoadResume() (store.Resume, error)
	SaveResume(store.Resume) error
}

// Status is the JSON view served by /api/usb/status.
type Status struct {
	State        string `json:"state"`
	USBMounted   bool   `json:"usb_mounted"`
	IsPlaying    bool   `json:"is_playing"`
	CurrentFile  string `json:"current_file"`
	CurrentIndex int    `json:"current_index"`
	TotalTracks  int    `json:"total_tracks"`
	Shuffle      bool   `json:"shuffle"`
	Error        string `json:"error,omitempty"`
}

// Controller owns the track list and the decoder process. All transitions
// happen under mu and the state field is the only guard against spawning
// a second decoder.
type Controller struct {
	mu sync.Mutex

	state    State
	root     string
	sorted   []string
	tracks   []string
	index    int
	resumed  bool
	shuffle  bool
	proc     Process
	gen      uint64
	failures int
	lastErr  error

	launcher    Launcher
	sink        Sink
	store       StateStore
	scan        func(root string) ([]string, error)
	sinkTimeout time.Duration
	events      chan Status
}

// New creates an idle controller. sink and st may be nil.
func New(launcher Launcher, sink Sink, st StateStore) *Controller {
	return &Controller{
		state:       Idle,
		launcher:    launcher,
		sink:        sink,
		store:       st,
		scan:        ScanTracks,
		sinkTimeout: 5 * time.Second,
		events:      make(chan Status, 16),
	}
}

// Events delivers a status snapshot after every transition. Snapshots are
// dropped when the reader falls behind.
func (c *Controller) Events() <-chan Status {
	return c.events
}

// Mounted moves Idle to Ready and builds the track list from root.
func (c *Controller) Mounted(root string) error {
	tracks, err := c.scan(root)
	if err != nil {
		return err
	}

	var resume store.Resume
	if c.store != nil {
		if resume, err = c.store.LoadResume(); err != nil {
			log.Printf("PLAYER: Could not load resume state: %v", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return nil
	}
	c.root = root
	c.sorted = tracks
	c.tracks = append([]string(nil), tracks...)
	c.index = 0
	c.resumed = false
	c.failures = 0
	c.lastErr = nil
	c.state = Ready

	if resume.Shuffle {
		c.shuffle = true
	}
	if resume.Track != "" {
		for i, t := range c.tracks {
			if t == resume.Track {
				c.index = i
				c.resumed = true
				break
			}
		}
	}
	if c.shuffle {
		c.reorderLocked()
	}

	log.Printf("PLAYER: USB media mounted at %s with %d tracks", root, len(c.tracks))
	c.notifyLocked()
	return nil
}

// Unmounted moves any state to Idle. A running decoder is killed first.
func (c *Controller) Unmounted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Idle {
		return
	}
	wasPlaying := c.state == Playing
	c.killLocked()
	c.state = Idle
	c.root = ""
	c.sorted = nil
	c.tracks = nil
	c.index = 0
	c.resumed = false
	if wasPlaying {
		c.restoreSinkLocked()
	}
	log.Println("PLAYER: USB media removed")
	c.notifyLocked()
}

// Play starts the decoder on the current track. Playing is left as is.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Idle:
		return ErrNoMediaMounted
	case Playing:
		return nil
	}
	if len(c.tracks) == 0 {
		return ErrEmptyTrackList
	}
	if !c.resumed {
		c.index = 0
	}
	c.failures = 0
	c.lastErr = nil

	if c.sink != nil {
		sinkCtx, cancel := context.WithTimeout(ctx, c.sinkTimeout)
		if err := c.sink.Suppress(sinkCtx); err != nil {
			log.Printf("PLAYER: Failed to suppress Bluetooth sink: %v", err)
		}
		cancel()
	}
	c.state = Playing
	err := c.startLocked()
	c.notifyLocked()
	return err
}

// Stop kills the decoder and returns to Ready.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Playing {
		return nil
	}
	c.killLocked()
	c.state = Ready
	c.restoreSinkLocked()
	log.Println("PLAYER: Playback stopped")
	c.notifyLocked()
	return nil
}

// Next restarts the decoder on the following track, wrapping to the first.
func (c *Controller) Next(ctx context.Context) error {
	return c.skip(1)
}

// Previous restarts the decoder on the preceding track, wrapping to the
// last.
func (c *Controller) Previous(ctx context.Context) error {
	return c.skip(-1)
}

func (c *Controller) skip(step int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Playing {
		return ErrNotPlaying
	}
	c.killLocked()
	n := len(c.tracks)
	c.index = ((c.index+step)%n + n) % n
	c.failures = 0
	err := c.startLocked()
	c.notifyLocked()
	return err
}

// ToggleShuffle flips shuffle mode. The current track keeps playing and
// stays current; turning shuffle off restores path order.
func (c *Controller) ToggleShuffle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.shuffle = !c.shuffle
	c.reorderLocked()
	log.Printf("PLAYER: Shuffle %v", c.shuffle)
	c.saveLocked()
	c.notifyLocked()
	return c.shuffle
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	s := Status{
		State:        c.state.String(),
		USBMounted:   c.state != Idle,
		IsPlaying:    c.state == Playing,
		CurrentIndex: c.index,
		TotalTracks:  len(c.tracks),
		Shuffle:      c.shuffle,
	}
	if c.state == Playing && c.index < len(c.tracks) {
		s.CurrentFile = filepath.Base(c.tracks[c.index])
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	return s
}

func (c *Controller) notifyLocked() {
	select {
	case c.events <- c.statusLocked():
	default:
	}
}

// reorderLocked rebuilds tracks from sorted, shuffled or not, keeping the
// current track current.
func (c *Controller) reorderLocked() {
	if len(c.sorted) == 0 {
		return
	}
	current := ""
	if c.index < len(c.tracks) {
		current = c.tracks[c.index]
	}
	c.tracks = append(c.tracks[:0:0], c.sorted...)
	if c.shuffle {
		rand.Shuffle(len(c.tracks), func(i, j int) {
			c.tracks[i], c.tracks[j] = c.tracks[j], c.tracks[i]
		})
	}
	c.index = 0
	for i, t := range c.tracks {
		if t == current {
			c.index = i
			break
		}
	}
}

// startLocked spawns a decoder on tracks[index]. Spawn failures skip
// ahead; once every track has failed in a row the controller falls back
// to Ready with ErrNoPlayableTracks.
func (c *Controller) startLocked() error {
	n := len(c.tracks)
	for {
		path := c.tracks[c.index]
		proc, err := c.launcher.Launch(path)
		if err == nil {
			c.gen++
			c.proc = proc
			c.resumed = true
			go c.wait(proc, c.gen)
			log.Printf("PLAYER: Playing %d/%d: %s", c.index+1, n, filepath.Base(path))
			c.saveLocked()
			return nil
		}

		log.Printf("PLAYER: Failed to start decoder for %s: %v", filepath.Base(path), err)
		c.failures++
		if c.failures >= n {
			c.giveUpLocked()
			return ErrNoPlayableTracks
		}
		c.index = (c.index + 1) % n
	}
}

func (c *Controller) giveUpLocked() {
	log.Printf("PLAYER: All %d tracks failed, stopping", len(c.tracks))
	c.state = Ready
	c.proc = nil
	c.lastErr = ErrNoPlayableTracks
	c.restoreSinkLocked()
}

// wait reaps one decoder. Exits of decoders that were killed (generation
// moved on) are ignored.
func (c *Controller) wait(proc Process, gen uint64) {
	err := proc.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != Playing {
		return
	}
	c.proc = nil
	n := len(c.tracks)
	if err != nil {
		log.Printf("PLAYER: Decoder exited with error on %s: %v", filepath.Base(c.tracks[c.index]), err)
		c.failures++
		if c.failures >= n {
			c.giveUpLocked()
			c.notifyLocked()
			return
		}
	} else {
		c.failures = 0
	}

	c.index = (c.index + 1) % n
	if c.startLocked() != nil {
		log.Println("PLAYER: Playback ended, no playable tracks left")
	}
	c.notifyLocked()
}

func (c *Controller) killLocked() {
	if c.proc == nil {
		return
	}
	// Bump the generation first so the reaper ignores this exit.
	c.gen++
	if err := c.proc.Kill(); err != nil {
		log.Printf("PLAYER: Failed to kill decoder: %v", err)
	}
	c.proc = nil
}

func (c *Controller) restoreSinkLocked() {
	if c.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.sinkTimeout)
	defer cancel()
	if err := c.sink.Restore(ctx); err != nil {
		log.Printf("PLAYER: Failed to restore Bluetooth sink: %v", err)
	}
}

func (c *Controller) saveLocked() {
	if c.store == nil {
		return
	}
	r := store.Resume{Shuffle: c.shuffle}
	if c.index < len(c.tracks) {
		r.Track = c.tracks[c.index]
	}
	if err := c.store.SaveResume(r); err != nil {
		log.Printf("PLAYER: Could not save resume state: %v", err)
	}
}
