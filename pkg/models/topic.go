package models

// TopicReceipt identifies a consensus topic created on the ledger.
type TopicReceipt struct {
	TopicID       string `json:"topicId"`
	TransactionID string `json:"transactionId"`
}
