// Package lifecycle defines the per-turn record threaded through every pipeline stage.
package lifecycle

import (
	"encoding/json"
	"fmt"
)

// Category classifies a capability tool.
type Category string

const (
	// CategoryServer tools are administrative and never run inside a pipeline.
	CategoryServer Category = "server"
	// CategoryContext tools append to the record context before generation.
	CategoryContext Category = "context"
	// CategoryAction tools are offered to generation.
	CategoryAction Category = "action"
	// CategoryPostProcess tools run sequentially after generation and may write durably.
	CategoryPostProcess Category = "postprocess"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryServer, CategoryContext, CategoryAction, CategoryPostProcess:
		return true
	}
	return false
}

// Descriptor describes one tool exposed by a capability provider.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    Category `json:"category"`

	// ZIndex orders execution ascending. Ties keep registration order.
	ZIndex int `json:"z_index"`

	// Required marks a durability write whose failure must reach the caller.
	Required bool `json:"required,omitempty"`
}

// Approval carries caller-defined fields consumed only by approval gates.
type Approval struct {
	Approved bool              `json:"approved"`
	Reason   string            `json:"reason,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// Record is the shared per-turn data object.
//
// DaemonPubkey never changes once set, and PostProcessLog only grows. Records
// are passed by value; use Clone before handing a record to code that may
// mutate its slices.
type Record struct {
	TurnID         string       `json:"turn_id,omitempty"`
	DaemonPubkey   string       `json:"daemon_pubkey"`
	ChannelID      string       `json:"channel_id,omitempty"`
	Message        string       `json:"message"`
	Output         string       `json:"output"`
	Context        []string     `json:"context,omitempty"`
	Tools          []Descriptor `json:"tools,omitempty"`
	PostProcessLog []string     `json:"post_process_log,omitempty"`
	Approval       Approval     `json:"approval"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Context = cloneStrings(r.Context)
	out.PostProcessLog = cloneStrings(r.PostProcessLog)
	if r.Tools != nil {
		out.Tools = make([]Descriptor, len(r.Tools))
		copy(out.Tools, r.Tools)
	}
	if r.Approval.Attrs != nil {
		out.Approval.Attrs = make(map[string]string, len(r.Approval.Attrs))
		for k, v := range r.Approval.Attrs {
			out.Approval.Attrs[k] = v
		}
	}
	return out
}

// Validate checks the fields every stage relies on.
func (r Record) Validate() error {
	if r.DaemonPubkey == "" {
		return fmt.Errorf("%w: daemon pubkey is required", ErrInvalidRecord)
	}
	return nil
}

// AppendProcessLog returns a copy of r with entry appended to the post-process log.
func (r Record) AppendProcessLog(entry ProcessLogEntry) (Record, error) {
	raw, err := entry.Marshal()
	if err != nil {
		return r, err
	}
	out := r.Clone()
	out.PostProcessLog = append(out.PostProcessLog, raw)
	return out, nil
}

// ProcessLogEntry is the structured form of one post-process audit line.
type ProcessLogEntry struct {
	Server string         `json:"server"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
}

// Marshal encodes the entry as the JSON string stored in PostProcessLog.
func (e ProcessLogEntry) Marshal() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding post-process entry: %w", err)
	}
	return string(b), nil
}

// ParseProcessLogEntry decodes one PostProcessLog line.
func ParseProcessLogEntry(raw string) (ProcessLogEntry, error) {
	var e ProcessLogEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return ProcessLogEntry{}, fmt.Errorf("decoding post-process entry: %w", err)
	}
	return e, nil
}

// HasPrefix reports whether log starts with every entry of prefix, in order.
func HasPrefix(log, prefix []string) bool {
	if len(log) < len(prefix) {
		return false
	}
	for i := range prefix {
		if log[i] != prefix[i] {
			return false
		}
	}
	return true
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
