// Package rowcodec converts policies to and from the flat 12-column row stored
// in the remote spreadsheet.
//
// # Row layout
//
//	0 ID          4 Type     8  Anniversary
//	1 Policy No   5 Status   9  Birthday (empty when unknown)
//	2 Holder      6 Premium  10 Tags (JSON array of strings)
//	3 Plan        7 Mode     11 Specifics (JSON object)
//
// Columns are positional on read; the header row is written once by the
// gateway and never consulted when decoding.
//
// # Validation
//
// Decode rejects unknown policy types, statuses and payment modes, a premium
// that is not a non-negative number, and a Specifics object that does not
// match the schema reflected from its wire struct. Every rejection is a
// models.ErrorCodeParse error.
package rowcodec
