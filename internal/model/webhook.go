package model

// WebhookPayload is the body posted to the backend for every forwarded message.
type WebhookPayload struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// SendMessageRequest is the body of POST /send-message.
type SendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}
