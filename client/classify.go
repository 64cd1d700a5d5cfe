package client

import (
	"encoding/json"
	"net/http"
	"strings"

	"pkt.systems/hsearch/api"
)

// classify turns a complete HTTP answer into either the payload or an
// error whose type tells the dispatcher what to do next:
// *ClientRequestError stops the dispatch, *ServerError moves on to the next
// host.
func classify(host string, status int, body []byte) ([]byte, error) {
	switch {
	case status >= 200 && status < 300:
		return body, nil
	case status >= 400 && status < 500:
		return nil, &ClientRequestError{
			Host:    host,
			Status:  status,
			Message: errorMessage(status, body),
			Body:    body,
		}
	default:
		return nil, &ServerError{
			Host:    host,
			Status:  status,
			Message: errorMessage(status, body),
			Body:    body,
		}
	}
}

func errorMessage(status int, body []byte) string {
	var env api.ErrorResponse
	if len(body) > 0 && json.Unmarshal(body, &env) == nil && env.Message != "" {
		return env.Message
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		if len(msg) > 256 {
			msg = msg[:256] + "..."
		}
		return msg
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected status"
}

// decodePayload unmarshals a successful body into out.
func decodePayload(host string, body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{Host: host, Err: err, Body: body}
	}
	return nil
}
