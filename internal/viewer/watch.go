package viewer

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"perflens/internal/report"
)

// watch follows the reports directory and forwards report-file changes to
// the hub until ctx is cancelled. Only well-formed report names are
// forwarded; index rewrites and editor temp files are ignored.
func (v *Viewer) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(v.store.Dir()); err != nil {
		return err
	}
	log.Printf("[viewer] watching %s", v.store.Dir())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !report.ValidName(name) {
				continue
			}
			if out, forward := translate(ev); forward {
				out.Name = name
				v.hub.broadcast(out)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("[viewer] watch error: %v", err)
		}
	}
}

func translate(ev fsnotify.Event) (Event, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return Event{Type: "created"}, true
	case ev.Has(fsnotify.Write):
		return Event{Type: "changed"}, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Event{Type: "removed"}, true
	default:
		return Event{}, false
	}
}
