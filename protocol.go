package rspc

import "github.com/go-json-experiment/json/jsontext"

// Method is the operation requested by an incoming message.
type Method string

const (
	MethodQuery            Method = "query"
	MethodMutation         Method = "mutation"
	MethodSubscription     Method = "subscription"
	MethodSubscriptionStop Method = "subscriptionStop"
)

// ResultType is the kind of an outgoing message.
type ResultType string

const (
	ResultResponse ResultType = "response"
	ResultEvent    ResultType = "event"
	ResultError    ResultType = "error"
)

// IncomingMessage represents a message from client to server.
type IncomingMessage struct {
	ID     RequestID     `json:"id"`
	Method Method        `json:"method"`
	Params RequestParams `json:"params"`
}

// RequestParams names the procedure and carries its raw input.
type RequestParams struct {
	Path  string         `json:"path"`
	Input jsontext.Value `json:"input,omitempty"`
}

// ResponseMessage represents a message from server to client.
type ResponseMessage struct {
	ID     RequestID `json:"id"`
	Result Result    `json:"result"`
}

// Result is the payload of a ResponseMessage. Data is the encoded output for
// responses and events, and an ErrorData for errors.
type Result struct {
	Type ResultType `json:"type"`
	Data any        `json:"data"`
}

// ErrorData is the wire form of an *Error.
type ErrorData struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func errorData(e *Error) ErrorData {
	return ErrorData{
		Code:    e.Code,
		Kind:    CodeName(e.Code),
		Message: e.Message,
		Data:    e.Data,
	}
}
