package domain

// cursorPalette is the fixed set of cursor colors. Order matters: the index
// a name hashes to must be identical across reconnects and server restarts.
var cursorPalette = [...]string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
}

// ColorFor maps a display name to a palette color using a stable,
// order-independent character-code sum, so the same name always renders the
// same color on every client and across sessions.
func ColorFor(displayName string) string {
	sum := 0
	for _, r := range displayName {
		sum += int(r)
	}
	return cursorPalette[sum%len(cursorPalette)]
}
