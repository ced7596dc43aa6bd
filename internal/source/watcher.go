package source

import (
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/mudlark/internal/logging"
)

// Watcher invalidates a resolver's discovery cache when a watched search
// path changes. Missing search paths are skipped at construction; they are
// picked up again only after a restart.
type Watcher struct {
	fsw      *fsnotify.Watcher
	resolver *Resolver
	log      *logging.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher starts watching the resolver's search paths.
func NewWatcher(r *Resolver, log *logging.Logger) (*Watcher, error) {
	if log == nil {
		log = logging.Null
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		resolver: r,
		log:      log,
		done:     make(chan struct{}),
	}

	for _, dir := range r.Paths() {
		if _, err := os.Stat(dir); err != nil {
			log.Debug("source: not watching missing path %s", dir)
			continue
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(ev.Name) {
				continue
			}
			w.log.Debug("source: change detected: %s %s", ev.Op, ev.Name)
			w.resolver.Invalidate()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("source: watch error: %v", err)
		}
	}
}

// relevant reports whether a change to the named file affects discovery.
func relevant(name string) bool {
	return strings.HasSuffix(name, scriptExt) || strings.HasSuffix(name, string(os.PathSeparator)+manifestName)
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}
