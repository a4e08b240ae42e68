// Package transport provides the byte-level plumbing between the panel and
// the call server.
//
// Text commands travel as raw, unterminated writes. Binary payloads (door
// camera photos) are framed:
//
//	┌──────────────────────┬───────────────────────┐
//	│ length (uint32, BE)  │ payload (length bytes)│
//	└──────────────────────┴───────────────────────┘
//
// Writers loop on short writes so a frame is either sent completely or the
// call fails with the underlying error.
package transport
