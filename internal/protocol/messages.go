package protocol

// Block is one stored block on the wire and in the commit journal.
type Block struct {
	Pos         [3]int `json:"pos"`
	Type        int32  `json:"type"`
	Orientation string `json:"orientation,omitempty"`
}

// HELLO (client -> server)
type HelloMsg struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version"`
	SupportedVersions []string `json:"supported_versions,omitempty"`
	ClientName        string   `json:"client_name"`

	// WantBlocks asks for the full block list in WELCOME.
	WantBlocks  bool `json:"want_blocks,omitempty"`
	WantPreview bool `json:"want_preview,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SelectedVersion string       `json:"selected_version,omitempty"`
	SessionID       string       `json:"session_id"`
	ClientID        string       `json:"client_id"`
	CatalogDigest   string       `json:"catalog_digest"`
	State           SessionState `json:"state"`
	Blocks          []Block      `json:"blocks,omitempty"`
}

// CATALOG (server -> client): the block catalog in one part.
type CatalogMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Digest          string         `json:"digest"` // sha256 hex of blocks.json
	Blocks          []CatalogBlock `json:"blocks"`
}

type CatalogBlock struct {
	ID           int32    `json:"id"`
	Name         string   `json:"name"`
	Categories   []string `json:"categories,omitempty"`
	Orientations []string `json:"orientations,omitempty"`
	Transparent  bool     `json:"transparent,omitempty"`
}

// COMMAND (client -> server)
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Op              string `json:"op"`

	Tool        string  `json:"tool,omitempty"`
	Block       *int32  `json:"block,omitempty"`
	BlockName   string  `json:"block_name,omitempty"`
	Orientation string  `json:"orientation,omitempty"`
	Pos         *[3]int `json:"pos,omitempty"`
	Src         int     `json:"src,omitempty"`
	Dst         int     `json:"dst,omitempty"`
	Level       int     `json:"level,omitempty"`
	Path        string  `json:"path,omitempty"`
}

// RESULT (server -> client): the outcome of one COMMAND.
type ResultMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	ResultFor       string        `json:"result_for"`
	Accepted        bool          `json:"accepted"`
	Code            string        `json:"code,omitempty"`
	Message         string        `json:"message,omitempty"`
	State           *SessionState `json:"state,omitempty"`
	Blocks          []Block       `json:"blocks,omitempty"`
}

type SessionState struct {
	Seq         uint64   `json:"seq"`
	Tool        string   `json:"tool"`
	ToolState   string   `json:"tool_state"`
	Anchors     [][3]int `json:"anchors,omitempty"`
	Ready       bool     `json:"ready"`
	Block       int32    `json:"block"`
	Orientation string   `json:"orientation,omitempty"`
	BlockCount  int      `json:"block_count"`
	Levels      []int    `json:"levels,omitempty"`
	UndoName    string   `json:"undo_name,omitempty"`
	RedoName    string   `json:"redo_name,omitempty"`
	Modified    bool     `json:"modified"`
}

// CHANGE (server -> client): one committed transaction, forward order.
type ChangeMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Seq             uint64  `json:"seq"`
	Action          string  `json:"action,omitempty"`
	Removed         []Block `json:"removed,omitempty"`
	Added           []Block `json:"added,omitempty"`
}

// PREVIEW (server -> client): the current ephemeral overlay. Cleared is set
// when the overlay went away.
type PreviewMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Cleared         bool    `json:"cleared,omitempty"`
	Removed         []Block `json:"removed,omitempty"`
	Added           []Block `json:"added,omitempty"`
}
