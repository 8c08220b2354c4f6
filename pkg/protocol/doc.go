// Package protocol implements the host to device command line protocol.
package protocol

// Each command is one UTF-8 JSON object terminated by a newline:
//
//	{"freq":10000,"duty":32768}
//
// The host is the only producer. There is no acknowledgement or
// retransmission: a lost line has no effect until the next one arrives.
