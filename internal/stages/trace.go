// Package stages records the outcome of each named pipeline stage for one
// invocation and defines the tagged error the stages use to report failure.
package stages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Status is the outcome of a stage.
type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
	StatusRunning Status = "running"

	// StatusLowConfidence marks a remote result that completed but was
	// discarded by the confidence gate.
	StatusLowConfidence Status = "ok_but_low_confidence"
)

// Terminal reports whether the status ends a stage.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Fields carries stage-specific diagnostic values.
type Fields map[string]any

// Entry is the recorded outcome of one stage.
type Entry struct {
	Status Status
	Fields Fields
}

// NamedEntry pairs a stage name with its entry.
type NamedEntry struct {
	Stage string
	Entry
}

// Trace is an ordered, append-only record of stage outcomes.
// Keys keep their first insertion position when overwritten.
// Safe for concurrent use.
type Trace struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
}

// NewTrace creates an empty trace.
func NewTrace() *Trace {
	return &Trace{entries: make(map[string]Entry)}
}

// Set records status for stage. A stage that already reached a terminal
// status cannot go back to running.
func (t *Trace) Set(stage string, status Status, fields Fields) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries == nil {
		t.entries = make(map[string]Entry)
	}

	prev, exists := t.entries[stage]
	if exists && prev.Status.Terminal() && status == StatusRunning {
		return fmt.Errorf("%s: %w (%s)", stage, ErrTerminal, prev.Status)
	}
	if !exists {
		t.order = append(t.order, stage)
	}

	var copied Fields
	if len(fields) > 0 {
		copied = make(Fields, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
	}
	t.entries[stage] = Entry{Status: status, Fields: copied}
	return nil
}

// Running marks stage as in progress.
func (t *Trace) Running(stage string) error {
	return t.Set(stage, StatusRunning, nil)
}

// OK marks stage as succeeded with optional fields.
func (t *Trace) OK(stage string, fields Fields) {
	_ = t.Set(stage, StatusOK, fields)
}

// Skip marks stage as deliberately not run.
func (t *Trace) Skip(stage string) {
	_ = t.Set(stage, StatusSkipped, nil)
}

// Fail marks stage as failed with reason.
func (t *Trace) Fail(stage, reason string) {
	_ = t.Set(stage, StatusError, Fields{"reason": reason})
}

// Get returns the entry for stage.
func (t *Trace) Get(stage string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[stage]
	return e, ok
}

// Status returns the status of stage, or "" when it was never recorded.
func (t *Trace) Status(stage string) Status {
	e, _ := t.Get(stage)
	return e.Status
}

// Stages returns stage names in insertion order.
func (t *Trace) Stages() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of recorded stages.
func (t *Trace) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Entries returns a snapshot of all entries in insertion order.
func (t *Trace) Entries() []NamedEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NamedEntry, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, NamedEntry{Stage: name, Entry: t.entries[name]})
	}
	return out
}

// value is the wire shape of an entry: a bare status string when there are
// no fields, otherwise an object with a status key.
func (e Entry) value() any {
	if len(e.Fields) == 0 {
		return string(e.Status)
	}
	m := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["status"] = string(e.Status)
	return m
}

// MarshalJSON encodes the trace as an object whose keys keep insertion order.
func (t *Trace) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ne := range t.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ne.Stage)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(ne.Entry.value())
		if err != nil {
			return nil, fmt.Errorf("failed to encode stage %s: %w", ne.Stage, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a trace, keeping the key order of the document.
func (t *Trace) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("stage trace must be a JSON object")
	}

	t.mu.Lock()
	t.order = nil
	t.entries = make(map[string]Entry)
	t.mu.Unlock()

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		stage, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected stage key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("failed to decode stage %s: %w", stage, err)
		}

		var status string
		if err := json.Unmarshal(raw, &status); err == nil {
			if err := t.Set(stage, Status(status), nil); err != nil {
				return err
			}
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("stage %s is neither a status nor an object: %w", stage, err)
		}
		s, _ := obj["status"].(string)
		delete(obj, "status")
		if err := t.Set(stage, Status(s), obj); err != nil {
			return err
		}
	}

	_, err = dec.Token()
	return err
}

// MarshalYAML encodes the trace as an ordered mapping.
func (t *Trace) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, ne := range t.Entries() {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: ne.Stage}
		node.Content = append(node.Content, key, entryNode(ne.Entry))
	}
	return node, nil
}

// entryNode renders an entry with "status" first and remaining fields sorted.
func entryNode(e Entry) *yaml.Node {
	if len(e.Fields) == 0 {
		return &yaml.Node{Kind: yaml.ScalarNode, Value: string(e.Status)}
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	node := &yaml.Node{Kind: yaml.MappingNode}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "status"},
		&yaml.Node{Kind: yaml.ScalarNode, Value: string(e.Status)},
	)
	for _, k := range keys {
		val := &yaml.Node{}
		if err := val.Encode(e.Fields[k]); err != nil {
			val = &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprint(e.Fields[k])}
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, val)
	}
	return node
}
