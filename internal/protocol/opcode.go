// Package protocol implements the duplex channel framing (spec §4.8):
// object framing for low-rate messages, compact array framing for the
// high-rate stroke and tileData paths, and the role-gating table that
// decides which opcodes a session may act on.
package protocol

// Opcode is the compact-array wire tag. Values are part of the wire
// contract and must not be renumbered.
type Opcode int

const (
	OpIdentify      Opcode = 0
	OpPresence      Opcode = 1
	OpStroke        Opcode = 2
	OpTilesRequest  Opcode = 3
	OpTileData      Opcode = 4
	OpWelcome       Opcode = 5
	OpTileBatchDone Opcode = 6
	OpLeave         Opcode = 7
)

// Kind identifies which payload a decoded Message carries, independent
// of which framing (object or compact array) it arrived in.
type Kind int

const (
	KindUnknown Kind = iota
	KindIdentify
	KindPresence
	KindStroke
	KindTilesRequest
)

// objectType maps the object-framing "type" string to its opcode, for
// the low-rate paths that are allowed to use either framing.
var objectType = map[string]Opcode{
	"identify":     OpIdentify,
	"presence":     OpPresence,
	"stroke":       OpStroke,
	"tilesRequest": OpTilesRequest,
}
