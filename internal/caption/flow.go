package caption

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// ErrorPrefix starts every message shown for a failed analysis.
const ErrorPrefix = "error analyzing image: "

// View is the presentation surface of the upload page.
type View interface {
	ShowPreview(src string)
	SetTriggerEnabled(enabled bool)
	SetLoading(loading bool)
	ShowResult(caption, image string)
	ShowError(msg string)
	HideResult()
	HideError()
}

// Flow drives the select → analyze → show cycle. At most one upload is in
// flight at a time.
type Flow struct {
	uploader Uploader
	view     View
	maxBytes int64

	// mu also orders trigger and loading updates on the view
	mu        sync.Mutex
	selection *Selection
	busy      bool
}

// NewFlow wires an uploader to a view. maxBytes <= 0 disables the size guard.
func NewFlow(uploader Uploader, view View, maxBytes int64) *Flow {
	return &Flow{
		uploader: uploader,
		view:     view,
		maxBytes: maxBytes,
	}
}

// Select replaces the current selection and shows its preview. Nothing is
// sent over the network.
func (f *Flow) Select(name string, data []byte) error {
	sel, err := NewSelection(name, data, f.maxBytes)
	if err != nil {
		f.view.ShowError(err.Error())
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.selection = &sel
	f.view.ShowPreview(sel.Preview)
	if f.busy {
		// the in-flight request re-enables the trigger when it settles
		return nil
	}
	f.view.SetTriggerEnabled(true)
	f.view.HideResult()
	f.view.HideError()
	return nil
}

// SelectFile reads path and selects it.
func (f *Flow) SelectFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		ierr := inputError("read file", err)
		f.view.ShowError(ierr.Error())
		return ierr
	}
	return f.Select(path, data)
}

// Selected returns the current selection, if any.
func (f *Flow) Selected() (Selection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selection == nil {
		return Selection{}, false
	}
	return *f.selection, true
}

// Busy reports whether an upload is in flight.
func (f *Flow) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

// Analyze uploads the current selection. Loading and trigger state are
// restored on every return path once a request has started.
func (f *Flow) Analyze(ctx context.Context) (*Result, error) {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return nil, ErrBusy
	}
	if f.selection == nil {
		f.mu.Unlock()
		f.view.ShowError(ErrNoSelection.Error())
		return nil, ErrNoSelection
	}
	sel := *f.selection
	f.busy = true
	f.view.SetLoading(true)
	f.view.HideResult()
	f.view.HideError()
	f.view.SetTriggerEnabled(false)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.busy = false
		f.view.SetLoading(false)
		f.view.SetTriggerEnabled(true)
	}()

	res, err := f.uploader.Upload(ctx, sel)
	if err != nil {
		f.view.ShowError(ErrorPrefix + err.Error())
		return nil, fmt.Errorf("analyze %s: %w", sel.Name, err)
	}

	f.view.ShowResult(res.Caption, res.Image)
	return res, nil
}
