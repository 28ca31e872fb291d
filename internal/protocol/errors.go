package protocol

// Result and ACK codes. An empty code means success.
const (
	// Message failed schema validation or arrived out of order.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	// The world refused a join or an ACT because it is full.
	ErrWorldBusy = "E_WORLD_BUSY"

	ErrBadRequest = "E_BAD_REQUEST"
	// The box pool is at capacity.
	ErrNoResource = "E_NO_RESOURCE"
	// Nothing in reach under the look ray, or the anchor cannot take a box there.
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrRateLimit     = "E_RATE_LIMIT"
	// The target face or cell is already taken.
	ErrConflict = "E_CONFLICT"
	// JUMP while airborne.
	ErrBlocked = "E_BLOCKED"
	// Graph invariant or face resolution failure. Logged and audited.
	ErrInternal = "E_INTERNAL"
)

// IsKnownCode reports whether code is empty or one of the codes above.
func IsKnownCode(code string) bool {
	switch code {
	case "", ErrProtoBadRequest, ErrWorldBusy, ErrBadRequest, ErrNoResource,
		ErrInvalidTarget, ErrRateLimit, ErrConflict, ErrBlocked, ErrInternal:
		return true
	}
	return false
}
