package config

const (
	// TopicRetrievalQuery is the NSQ topic for query log events, one per
	// search or context request.
	TopicRetrievalQuery = "retrieval.query"
)
