package services

import (
	"context"
	"time"

	"github.com/mbocsi/relayhub/proto"
)

// DefaultRequestTimeout bounds a request made through the services.
const DefaultRequestTimeout = 30 * time.Second

// MessagingServiceImpl implements MessagingService
type MessagingServiceImpl struct {
	hub     Hub
	timeout time.Duration
}

// NewMessagingService creates a new messaging service
func NewMessagingService(hub Hub, timeout time.Duration) MessagingService {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &MessagingServiceImpl{
		hub:     hub,
		timeout: timeout,
	}
}

// SendMessage routes a request through the hub and waits for its reply. The
// reply is broadcast to every viewer as well. A reply with the Error action
// is returned together with a REJECTED ServiceError.
func (ms *MessagingServiceImpl) SendMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := validateKey(req.Key); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, ms.timeout)
	defer cancel()

	reply, err := ms.hub.Request(ctx, proto.Message{
		Key:    proto.ProtocolKey(req.Key),
		Action: proto.Action(req.Action),
		Data:   req.Data,
	})
	if err != nil {
		return nil, hubError(err)
	}
	return convertReply(reply), replyError(reply)
}
