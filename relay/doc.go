// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay exports the panes of a control-mode session over a
// stream socket, so a terminal on another host or in another process
// can attach to one pane.
//
// Every message is framed as a 1-byte type, a 4-byte big-endian payload
// length, and the payload. A connection begins with an AttachRequest
// from the client. The server answers with an AttachResponse and, on
// success, a PaneMetadata message followed by one History message
// holding the pane's retained output. After that, Data messages carry
// output to the client and keystrokes to the server, Resize messages
// carry the client's terminal size, and a final Exit message reports
// how the pane ended.
//
// History payloads may be compressed with LZ4 or zstd and always carry
// a BLAKE3 digest of the uncompressed bytes. See [EncodeHistory].
//
// A Server reads each pane's output once and fans it out, so any number
// of clients may attach to the same pane. A client that stops draining
// its output is disconnected rather than allowed to stall the others.
package relay
