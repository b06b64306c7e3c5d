package verifier

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region state
// frame is one scope record. Frames are never modified once a State holding
// them has been returned.
type frame struct {
	parent   int
	label    string
	bindings map[string]Parity
}

// State is an immutable arena of scope frames with parent links. top is the
// innermost open scope; lookups walk parent links from there.
type State struct {
	frames []frame
	top    int
}

// NewState returns an empty root scope.
func NewState() State {
	return State{frames: []frame{{parent: -1}}, top: 0}
}

// NewStateWith returns a root scope holding the given bindings.
func NewStateWith(bindings map[string]Parity) State {
	b := make(map[string]Parity, len(bindings))
	for k, v := range bindings {
		b[k] = v
	}
	return State{frames: []frame{{parent: -1, bindings: b}}, top: 0}
}

// Lookup resolves a symbol through the open scopes.
func (s State) Lookup(symbol string) (Parity, bool) {
	for i := s.top; i >= 0; i = s.frames[i].parent {
		if p, ok := s.frames[i].bindings[symbol]; ok {
			return p, true
		}
	}
	return "", false
}

// Depth is the number of open case scopes.
func (s State) Depth() int {
	d := 0
	for i := s.top; s.frames[i].parent >= 0; i = s.frames[i].parent {
		d++
	}
	return d
}

// InCase reports whether the innermost scope is a split case.
func (s State) InCase() bool {
	return s.frames[s.top].parent >= 0
}

// Visible returns every binding reachable from the innermost scope.
func (s State) Visible() map[string]Parity {
	out := make(map[string]Parity)
	for i := s.top; i >= 0; i = s.frames[i].parent {
		for k, v := range s.frames[i].bindings {
			if _, shadowed := out[k]; !shadowed {
				out[k] = v
			}
		}
	}
	return out
}

// Key is stable for states with the same scope path and visible bindings.
func (s State) Key() string {
	var path []string
	for i := s.top; s.frames[i].parent >= 0; i = s.frames[i].parent {
		path = append(path, s.frames[i].label)
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	vis := s.Visible()
	names := make([]string, 0, len(vis))
	for k := range vis {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString(strings.Join(path, "/"))
	b.WriteByte('|')
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(string(vis[k]))
	}
	return b.String()
}

// #endregion state

// #region arena-ops

// bind returns a copy of s with symbol bound in the innermost scope.
func (s State) bind(symbol string, p Parity) State {
	frames := make([]frame, len(s.frames))
	copy(frames, s.frames)
	old := frames[s.top].bindings
	b := make(map[string]Parity, len(old)+1)
	for k, v := range old {
		b[k] = v
	}
	b[symbol] = p
	frames[s.top].bindings = b
	return State{frames: frames, top: s.top}
}

// push returns a copy of s with a new case scope opened under the current one.
func (s State) push(label string) State {
	frames := make([]frame, len(s.frames), len(s.frames)+1)
	copy(frames, s.frames)
	frames = append(frames, frame{parent: s.top, label: label})
	return State{frames: frames, top: len(frames) - 1}
}

// pop returns s with the innermost case scope closed. The closed frame stays in
// the arena so a later join can still read it.
func (s State) pop() State {
	return State{frames: s.frames, top: s.frames[s.top].parent}
}

// #endregion arena-ops

// #region snapshot

// Snapshot serializes the arena.
func (s State) Snapshot() Snapshot {
	out := Snapshot{Top: s.top, Frames: make([]FrameSnapshot, len(s.frames))}
	for i, f := range s.frames {
		var b map[string]Parity
		if len(f.bindings) > 0 {
			b = make(map[string]Parity, len(f.bindings))
			for k, v := range f.bindings {
				b[k] = v
			}
		}
		out.Frames[i] = FrameSnapshot{Parent: f.parent, Case: f.label, Bindings: b}
	}
	return out
}

// Restore rebuilds a State from a snapshot, checking arena links.
func Restore(snap Snapshot) (State, error) {
	if len(snap.Frames) == 0 {
		return NewState(), nil
	}
	if snap.Top < 0 || snap.Top >= len(snap.Frames) {
		return State{}, fmt.Errorf("restore state: top %d out of range", snap.Top)
	}
	frames := make([]frame, len(snap.Frames))
	for i, f := range snap.Frames {
		if i == 0 && f.Parent != -1 {
			return State{}, fmt.Errorf("restore state: root frame has parent %d", f.Parent)
		}
		if i > 0 && (f.Parent < 0 || f.Parent >= i) {
			return State{}, fmt.Errorf("restore state: frame %d has parent %d", i, f.Parent)
		}
		b := make(map[string]Parity, len(f.Bindings))
		for k, v := range f.Bindings {
			if _, ok := ParseParity(string(v)); !ok {
				return State{}, fmt.Errorf("restore state: symbol %s has sort %q", k, v)
			}
			b[k] = v
		}
		frames[i] = frame{parent: f.Parent, label: f.Case, bindings: b}
	}
	return State{frames: frames, top: snap.Top}, nil
}

// #endregion snapshot

// #region wire

// SnapshotCodec moves parity states across process boundaries as JSON
// snapshots. An empty payload decodes to the root scope.
type SnapshotCodec struct{}

// Encode serializes s.
func (SnapshotCodec) Encode(s symbolic.State) (json.RawMessage, error) {
	st, err := asState(s)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(st.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

// Decode rebuilds a state from payload.
func (SnapshotCodec) Decode(payload json.RawMessage) (symbolic.State, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return NewState(), nil
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	st, err := Restore(snap)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// #endregion wire
