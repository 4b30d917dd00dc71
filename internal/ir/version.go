package ir

// Version constants for the persisted layout and the client.
const (
	// LayoutVersion is the version of the persisted sync layout.
	LayoutVersion = "1"

	// ClientVersion is the spendsync client version.
	ClientVersion = "0.1.0"
)
