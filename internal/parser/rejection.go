package parser

// Code identifies why a signal was rejected.
type Code string

const (
	CodeEmptyMessage            Code = "empty_message"
	CodeIncompleteData          Code = "incomplete_data"
	CodeInvalidFirstLine        Code = "invalid_first_line"
	CodeInvalidSLFormat         Code = "invalid_sl_format"
	CodeInvalidTPFormat         Code = "invalid_tp_format"
	CodeMissingSL               Code = "missing_sl"
	CodeMissingTP               Code = "missing_tp"
	CodeInvalidStopTakeOrdering Code = "invalid_stop_take_ordering"
)

const (
	msgBuyOrdering  = "stop-loss must be lower than take-profit for BUY"
	msgSellOrdering = "stop-loss must be higher than take-profit for SELL"
)

var messages = map[Code]string{
	CodeEmptyMessage:     "empty message",
	CodeIncompleteData:   "incomplete signal data",
	CodeInvalidFirstLine: "invalid first line format",
	CodeInvalidSLFormat:  "invalid SL format",
	CodeInvalidTPFormat:  "invalid TP format",
	CodeMissingSL:        "SL missing",
	CodeMissingTP:        "TP missing",
}

// Rejection is a terminal, non-retriable refusal of a signal.
type Rejection struct {
	Code    Code
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(code Code) *Rejection {
	return &Rejection{Code: code, Message: messages[code]}
}
