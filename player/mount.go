package player

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jochenvg/go-udev"
)

// MountTarget receives mount transitions.
type MountTarget interface {
	Mounted(root string) error
	Unmounted()
}

// HotplugFunc starts a stream of block-device actions ("add", "remove",
// "change"). The stream ends when done is closed.
type HotplugFunc func(done <-chan struct{}) (<-chan string, error)

// MountWatcher detects a USB volume mounted at or under Root. udev
// partition events trigger a check of the mount table; a periodic poll
// covers systems where the udev monitor is unavailable.
type MountWatcher struct {
	Root       string
	Interval   time.Duration
	MountsFile string
	// Settle is the delay between a udev event and the mount check, giving
	// the automounter time to finish.
	Settle  time.Duration
	Hotplug HotplugFunc

	target  MountTarget
	mounted string
}

func NewMountWatcher(root string, interval time.Duration, target MountTarget) *MountWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MountWatcher{
		Root:       filepath.Clean(root),
		Interval:   interval,
		MountsFile: "/proc/self/mounts",
		Settle:     time.Second,
		Hotplug:    UdevHotplug,
		target:     target,
	}
}

// Run blocks until ctx is done.
func (w *MountWatcher) Run(ctx context.Context) {
	w.check()

	var hotplug <-chan string
	if w.Hotplug != nil {
		ch, err := w.Hotplug(ctx.Done())
		if err != nil {
			log.Printf("PLAYER: udev monitor unavailable, polling every %s: %v", w.Interval, err)
		} else {
			hotplug = ch
		}
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	settle := time.NewTimer(w.Settle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-hotplug:
			if !ok {
				hotplug = nil
				continue
			}
			log.Printf("PLAYER: Block device %s event", action)
			settle.Reset(w.Settle)
		case <-settle.C:
			w.check()
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *MountWatcher) check() {
	point, err := w.findMount()
	if err != nil {
		log.Printf("PLAYER: Could not read mount table: %v", err)
		return
	}

	switch {
	case point != "" && w.mounted == "":
		if err := w.target.Mounted(point); err != nil {
			log.Printf("PLAYER: Failed to scan %s: %v", point, err)
			return
		}
		w.mounted = point
	case point == "" && w.mounted != "":
		w.target.Unmounted()
		w.mounted = ""
	case point != "" && point != w.mounted:
		// Volume swapped between checks
		w.target.Unmounted()
		w.mounted = ""
		if err := w.target.Mounted(point); err != nil {
			log.Printf("PLAYER: Failed to scan %s: %v", point, err)
			return
		}
		w.mounted = point
	}
}

func (w *MountWatcher) findMount() (string, error) {
	f, err := os.Open(w.MountsFile)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return findMountPoint(f, w.Root)
}

// findMountPoint returns the first mount point in a mounts(5) table that
// is root itself or lies below it.
func findMountPoint(r io.Reader, root string) (string, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		point := unescapeMountField(fields[1])
		if point == root || strings.HasPrefix(point, root+"/") {
			return point, nil
		}
	}
	return "", scanner.Err()
}

// unescapeMountField decodes the octal escapes (\040 for space) used in
// the mount table.
func unescapeMountField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// UdevHotplug streams udev block partition events.
func UdevHotplug(done <-chan struct{}) (<-chan string, error) {
	u := udev.Udev{}
	monitor := u.NewMonitorFromNetlink("udev")
	if monitor == nil {
		return nil, errors.New("udev: cannot create netlink monitor")
	}
	if err := monitor.FilterAddMatchSubsystemDevtype("block", "partition"); err != nil {
		return nil, err
	}
	devices, err := monitor.DeviceChan(done)
	if err != nil {
		return nil, err
	}

	actions := make(chan string)
	go func() {
		defer close(actions)
		for d := range devices {
			select {
			case actions <- d.Action() + " " + d.Devnode():
			case <-done:
				return
			}
		}
	}()
	return actions, nil
}
