package domain

// CursorPosition is an editor-space coordinate. The mapping from line/ch to
// pixels belongs to the rendering surface, not to this engine.
type CursorPosition struct {
	Line int `json:"line"`
	Ch   int `json:"ch"`
}

// RemoteCursor is one ephemeral cursor entry as broadcast to clients.
type RemoteCursor struct {
	ConnID      string         `json:"connectionId"`
	Position    CursorPosition `json:"position"`
	Color       string         `json:"color"`
	DisplayName string         `json:"displayName"`
}
