// Package models defines the data structures for conversation turn events.
package models

// TurnQuestion is emitted when a finalized utterance becomes a turn.
type TurnQuestion struct {
	EventType string `json:"eventType"`
	TurnID    string `json:"turnId"`
	Utterance string `json:"utterance"`
	Timestamp int64  `json:"timestamp"`
}

// TurnAnswer is emitted when a turn reaches its terminal state.
type TurnAnswer struct {
	EventType   string `json:"eventType"`
	TurnID      string `json:"turnId"`
	Utterance   string `json:"utterance"`
	Answer      string `json:"answer"`
	AnswerError string `json:"answerError,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}
