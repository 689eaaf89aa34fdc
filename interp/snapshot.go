package interp

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("interp: failed to create CBOR enc mode: %v", err))
	}
	snapshotEncMode = em
}

// Snapshot is a point-in-time view of an instance for diagnostics.
type Snapshot struct {
	Globals     []GlobalSnapshot `cbor:"1,keyasint,omitempty"`
	Memory      []byte           `cbor:"2,keyasint,omitempty"`
	MemoryPages uint32           `cbor:"3,keyasint"`
	StackHeight int              `cbor:"4,keyasint"`
	CallDepth   int              `cbor:"5,keyasint"`
	Steps       uint64           `cbor:"6,keyasint"`
	LastTrap    string           `cbor:"7,keyasint,omitempty"`
	Frames      []FrameSnapshot  `cbor:"8,keyasint,omitempty"`
}

type GlobalSnapshot struct {
	Kind    Kind   `cbor:"1,keyasint"`
	Bits    uint64 `cbor:"2,keyasint"`
	Mutable bool   `cbor:"3,keyasint"`
}

// Value returns the captured global value.
func (g GlobalSnapshot) Value() Value { return FromBits(g.Kind, g.Bits) }

type FrameSnapshot struct {
	Func   string `cbor:"1,keyasint"`
	PC     int    `cbor:"2,keyasint"`
	Labels int    `cbor:"3,keyasint"`
}

// Snapshot captures the instance state. Memory contents are copied.
func (i *Instance) Snapshot() *Snapshot {
	s := &Snapshot{
		MemoryPages: i.memory.Pages(),
		Memory:      append([]byte(nil), i.memory.Bytes()...),
		StackHeight: i.stack.Len(),
		CallDepth:   i.calls.Depth(),
		Steps:       i.stats.Steps,
	}
	for _, g := range i.globals {
		s.Globals = append(s.Globals, GlobalSnapshot{Kind: g.Kind, Bits: g.value.Bits(), Mutable: g.Mutable})
	}
	for _, f := range i.calls.Frames() {
		s.Frames = append(s.Frames, FrameSnapshot{Func: f.Func.Name, PC: f.PC, Labels: f.LabelDepth()})
	}
	if i.lastTrap != nil {
		s.LastTrap = i.lastTrap.Error()
	}
	return s
}

// EncodeSnapshot serializes s to canonical CBOR.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	return snapshotEncMode.Marshal(s)
}

// DecodeSnapshot deserializes a snapshot written by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("interp: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
