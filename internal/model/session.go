package model

// Role is the immutable mode a session identified as, per spec §4.5/§4.8.
type Role int

const (
	RoleUnidentified Role = iota
	RolePeer
	RoleTiles
)

// PeerSession is a live duplex-channel connection. It is pure in-memory;
// nothing here is ever persisted (spec §9: "do not mix concerns by
// persisting presence").
type PeerSession struct {
	ID          string
	Role        Role
	DisplayName string
	CursorColor string
	X           float64
	Y           float64
}
