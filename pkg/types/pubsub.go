package types

import "encoding/json"

// PubSubMessage is the envelope a Pub/Sub-triggered cloud function receives
// inside its CloudEvent payload.
type PubSubMessage struct {
	Message struct {
		Data       json.RawMessage   `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
