// Package models parses the payloads of management command replies:
// state, load-stats, status 1 and version. Parsers take the joined reply
// text returned by mgmt.Client.SendCommand and fail with a
// *common.ParseError.
package models
