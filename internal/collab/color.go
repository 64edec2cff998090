package collab

// cursorPalette holds the colors assigned to session participants. A user
// always maps to the same color on every client, so cursors stay consistent
// across the whole session without any coordination.
var cursorPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7",
	"#DDA0DD", "#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E9",
}

// ColorFor deterministically picks a cursor color for a user id.
func ColorFor(userID string) string {
	var hash int32
	for _, c := range userID {
		hash = int32(c) + ((hash << 5) - hash)
	}
	h := int64(hash)
	if h < 0 {
		h = -h
	}
	return cursorPalette[h%int64(len(cursorPalette))]
}
