package model

// Envelope carries one raw view message line with source metadata.
// It is the transport contract between message sources and the ingest processor.
type Envelope struct {
	Source string
	Line   string
	// Peer identifies the connection the line arrived on, when known.
	Peer string
}
