package fanvue

import "fanreply/app/domain"

type userResponse struct {
	UUID   string `json:"uuid"`
	Handle string `json:"handle"`
	Email  string `json:"email"`
}

type pagination struct {
	HasMore bool `json:"hasMore"`
}

type subscriberItem struct {
	UUID        string `json:"uuid"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type subscribersResponse struct {
	Data       []subscriberItem `json:"data"`
	Pagination pagination       `json:"pagination"`
}

type sender struct {
	UUID   string `json:"uuid"`
	Handle string `json:"handle"`
}

type messageItem struct {
	UUID   string `json:"uuid"`
	Text   string `json:"text"`
	SentAt string `json:"sentAt"`
	Sender sender `json:"sender"`
}

type messagesResponse struct {
	Data       []messageItem `json:"data"`
	Pagination pagination    `json:"pagination"`
}

type sendRequest struct {
	Text string `json:"text"`
}

func (s subscriberItem) toDomain() domain.Subscriber {
	handle := s.Handle
	if handle == "" {
		handle = "Unknown"
	}

	return domain.Subscriber{
		ID:          s.UUID,
		Handle:      handle,
		DisplayName: s.DisplayName,
	}
}

func (m messageItem) toDomain() domain.Message {
	return domain.Message{
		ID:       m.UUID,
		SenderID: m.Sender.UUID,
		Text:     m.Text,
		SentAt:   m.SentAt,
	}
}
