package protocol

import "tilestroke/internal/model"

// Allowed reports whether a session in the given role may act on a
// decoded message of this kind (spec §4.8 role gating, tested by P6).
// Everything else is ignored, never an error.
func Allowed(role model.Role, kind Kind) bool {
	switch role {
	case model.RoleUnidentified:
		return kind == KindIdentify
	case model.RolePeer:
		return kind == KindPresence || kind == KindStroke
	case model.RoleTiles:
		return kind == KindTilesRequest
	default:
		return false
	}
}
