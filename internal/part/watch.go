package part

import (
	"os"

	"github.com/fsnotify/fsnotify"
)

// IntegrityKind classifies damage observed on a partition backing
// file.
type IntegrityKind int

const (
	// Truncated: the file shrank below the configured cluster count,
	// so some clusters no longer exist on disk.
	Truncated IntegrityKind = iota
	// Removed: the file was removed or renamed away while the
	// partition still holds it open.
	Removed
)

func (k IntegrityKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// IntegrityEvent reports outside interference with a backing file.
// Size is the file size at the time of the check, or -1 when the file
// is gone.
type IntegrityEvent struct {
	Path string
	Kind IntegrityKind
	Size int64
}

// Watcher checks a partition's backing file against its configured
// geometry whenever the filesystem reports a change. The partition's
// own cluster I/O never shrinks or removes the file, so every event
// delivered here is outside interference that has corrupted swap.
type Watcher struct {
	w    *fsnotify.Watcher
	path string
	want int64
	evC  chan IntegrityEvent
	erC  chan error
}

// Watch starts integrity checking of the partition's backing file.
func (p *File) Watch() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path := p.Path()
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}
	fw := &Watcher{
		w:    w,
		path: path,
		want: int64(p.NumClusters()) * ClusterSize,
		evC:  make(chan IntegrityEvent, 16),
		erC:  make(chan error, 1),
	}
	go fw.loop()
	return fw, nil
}

func (fw *Watcher) loop() {
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				fw.evC <- IntegrityEvent{Path: fw.path, Kind: Removed, Size: -1}
				continue
			}
			fw.check()
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			fw.erC <- err
		}
	}
}

// check stats the backing file and reports it if it can no longer
// hold the configured clusters. Ordinary rewrites of cluster contents
// keep the size and pass silently.
func (fw *Watcher) check() {
	info, err := os.Stat(fw.path)
	if err != nil {
		fw.evC <- IntegrityEvent{Path: fw.path, Kind: Removed, Size: -1}
		return
	}
	if info.Size() < fw.want {
		fw.evC <- IntegrityEvent{Path: fw.path, Kind: Truncated, Size: info.Size()}
	}
}

// Events returns the integrity event channel.
func (fw *Watcher) Events() <-chan IntegrityEvent { return fw.evC }

// Errors returns the error channel.
func (fw *Watcher) Errors() <-chan error { return fw.erC }

// Close stops the watcher.
func (fw *Watcher) Close() error { return fw.w.Close() }
