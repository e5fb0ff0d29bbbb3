// Package trial loads reviewed CTML trial documents into MatchMiner.
//
// Each insert allocates the next protocol identifiers from a small JSON
// counter file: protocol_id is a running integer and protocol_no is the
// current date (yyyymmdd) followed by a two-digit counter that resets every
// day. The counter is only persisted after the server accepts the trial, so
// a rejected document does not consume a number.
package trial
