package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrBusy            = "E_BUSY"

	// Command layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrUnknownTool    = "E_UNKNOWN_TOOL"
	ErrUnknownBlock   = "E_UNKNOWN_BLOCK"
	ErrBadOrientation = "E_BAD_ORIENTATION"
	ErrIncomplete     = "E_INCOMPLETE"
	ErrOffPlane       = "E_OFF_PLANE"
	ErrNothingToUndo  = "E_NOTHING_TO_UNDO"
	ErrNothingToRedo  = "E_NOTHING_TO_REDO"
	ErrBadFile        = "E_BAD_FILE"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBusy:            {},
	ErrBadRequest:      {},
	ErrUnknownTool:     {},
	ErrUnknownBlock:    {},
	ErrBadOrientation:  {},
	ErrIncomplete:      {},
	ErrOffPlane:        {},
	ErrNothingToUndo:   {},
	ErrNothingToRedo:   {},
	ErrBadFile:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
