package cqrs

// GetTransactionQuery fetches a single transaction by its correlation id.
type GetTransactionQuery struct {
	CorrelationID string
	UserID        string
}

// ListTransactionsQuery fetches a page of the user's transactions.
type ListTransactionsQuery struct {
	UserID string
	Limit  int
	Offset int
}

// ListAccountTransactionsQuery fetches a page of the user's transactions touching
// AccountID on either leg.
type ListAccountTransactionsQuery struct {
	AccountID string
	UserID    string
	Limit     int
	Offset    int
}
