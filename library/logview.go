package weblink

import (
	"errors"
)

// Sender transmits a message to the broker.
type Sender interface {
	Send(m Message) error
}

// LogView shows the rows of the last log reply. Filtering happens on the
// broker; the view never filters, sorts or pages.
type LogView struct {
	sender  Sender
	id      Identity
	entries []LogEntry
}

func NewLogView(sender Sender, id Identity) *LogView {
	return &LogView{sender: sender, id: id}
}

// Submit stores filter on the broker and asks for the filtered log.
func (v *LogView) Submit(filter LogFilter) error {
	set, err := v.id.Set(v.id.Core, KeyLogFilter, filter.Params())
	if err != nil {
		return err
	}

	return errors.Join(v.sender.Send(set), v.Refresh())
}

// Refresh asks for the log with whatever filter the broker holds.
func (v *LogView) Refresh() error {
	return v.sender.Send(v.id.Get(v.id.Core, KeyLog))
}

func (v *LogView) Replace(entries []LogEntry) {
	v.entries = entries
}

func (v *LogView) Entries() []LogEntry {
	out := make([]LogEntry, len(v.entries))
	copy(out, v.entries)

	return out
}
