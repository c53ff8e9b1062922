package services

import (
	"cmp"
	"context"
	"slices"

	"github.com/mbocsi/relayhub/proto"
)

// CommandServiceImpl implements CommandService
type CommandServiceImpl struct {
	hub Hub
}

func NewCommandService(hub Hub) CommandService {
	return &CommandServiceImpl{hub: hub}
}

// ListCommands returns the cached menu of every key, sorted by key
func (cs *CommandServiceImpl) ListCommands(ctx context.Context) ([]CommandInfo, error) {
	commands, err := cs.hub.Commands(ctx)
	if err != nil {
		return nil, hubError(err)
	}

	result := make([]CommandInfo, 0, len(commands))
	for key, actions := range commands {
		result = append(result, CommandInfo{Key: key, Commands: slices.Clone(actions)})
	}
	slices.SortFunc(result, func(a, b CommandInfo) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return result, nil
}

func (cs *CommandServiceImpl) GetCommands(ctx context.Context, key string) (*CommandInfo, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	commands, err := cs.hub.Commands(ctx)
	if err != nil {
		return nil, hubError(err)
	}
	actions, ok := commands[proto.ProtocolKey(key)]
	if !ok {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "No commands known for key: " + key,
		}
	}
	return &CommandInfo{Key: proto.ProtocolKey(key), Commands: slices.Clone(actions)}, nil
}
