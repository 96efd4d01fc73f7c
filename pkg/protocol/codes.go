// Package protocol defines the wire-level reply catalog for the sunday
// line protocol. Every reply line starts with the catalog prefix for its
// status code and ends with CRLF.
package protocol

import "fmt"

// Code identifies a reply status in the catalog.
type Code string

// Catalog codes. The numeric codes are fixed by the protocol and must
// not be renumbered; clients match on them.
const (
	// CodeOK is the generic success prefix.
	CodeOK Code = "OK"

	// CodeOKAlt has an empty prefix. Handlers that build their own
	// multi-line payload (STAT) use it to emit the payload verbatim.
	CodeOKAlt Code = "OK_ALT"

	CodeSlotEmpty       Code = "100"
	CodeSlotDisabled    Code = "102"
	CodeUnknownFailure  Code = "103"
	CodeSlotNotFound    Code = "105"
	CodeDropFailed      Code = "150"
	CodeMachineOffline  Code = "151"
	CodeDropInProgress  Code = "152"
	CodeUserFirst       Code = "201"
	CodePoor            Code = "203"
	CodeLoginRequired   Code = "204"
	CodeBadArgCount     Code = "206"
	CodeBadIButton      Code = "207"
	CodeNoSuchUser      Code = "208"
	CodeTransferFailed  Code = "209"
	CodeBadSendAmount   Code = "210"
	CodeBadDelay        Code = "403"
	CodeBadPassword     Code = "407"
	CodeBadSlot         Code = "409"
	CodeNoMachine       Code = "413"
	CodeBadMachine      Code = "414"
	CodeBadCommand      Code = "415"
	CodeStatUnavailable Code = "416"
)

// prefixes maps every catalog code to its reply prefix.
var prefixes = map[Code]string{
	CodeOKAlt:           "",
	CodeOK:              "OK: ",
	CodeSlotEmpty:       "ERR 100 Slot empty.",
	CodeSlotDisabled:    "ERR 102 Slot disabled.",
	CodeUnknownFailure:  "ERR 103 Unknown Failure.",
	CodeSlotNotFound:    "ERR 105 Slot not found",
	CodeDropFailed:      "ERR 150 Unable to initialize hardware for drop.",
	CodeMachineOffline:  "ERR 151 Unable to communicate with hardware. Contact an admin.",
	CodeDropInProgress:  "WARN 152 Drop in progress, please wait before dropping again",
	CodeUserFirst:       "ERR 201 USER command needs to be issued first.",
	CodePoor:            "ERR 203 User is poor.",
	CodeLoginRequired:   "ERR 204 You need to login.",
	CodeBadArgCount:     "ERR 206 Invalid number of args",
	CodeBadIButton:      "ERR 207 Invalid Ibutton",
	CodeNoSuchUser:      "ERR 208 Transfer error - user doesnt exist",
	CodeTransferFailed:  "ERR 209 Error during credit transfer",
	CodeBadSendAmount:   "ERR 210 Send amount must be a positive, whole number",
	CodeBadDelay:        "ERR 403 Invalid delay",
	CodeBadPassword:     "ERR 407 Invalid password.",
	CodeBadSlot:         "ERR 409 Invalid slot.",
	CodeNoMachine:       "ERR 413 No machine selected.",
	CodeBadMachine:      "ERR 414 Invalid machine name",
	CodeBadCommand:      "ERR 415 Invalid command",
	CodeStatUnavailable: "ERR 416 Machine is offline or unreachable",
}

// Render formats one reply line for code, appending extra (if non-empty)
// to the catalog prefix and terminating with CRLF. Unknown codes are a
// programming error: the catalog is fixed at compile time, so Render
// panics rather than emitting an unprefixed line.
func Render(code Code, extra string) string {
	prefix, ok := prefixes[code]
	if !ok {
		panic(fmt.Sprintf("protocol: unknown reply code %q", code))
	}
	return prefix + extra + "\r\n"
}
