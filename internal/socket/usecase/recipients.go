package usecase

import (
	"context"
	"fmt"

	"plural-api/internal/shared/logger"
	"plural-api/internal/socket/domain/model"
	"plural-api/internal/socket/domain/repository"

	"go.uber.org/zap"
)

// RecipientResolver decides which users receive a change event.
type RecipientResolver interface {
	Resolve(ctx context.Context, event model.ChangeEvent) ([]string, error)
}

// OwnerOnlyResolver delivers every event to the document owner only.
type OwnerOnlyResolver struct{}

// Resolve implements RecipientResolver.
func (OwnerOnlyResolver) Resolve(_ context.Context, event model.ChangeEvent) ([]string, error) {
	if event.OwnerID == "" {
		return nil, nil
	}
	return []string{event.OwnerID}, nil
}

// FriendFanoutResolver delivers to the owner and to every friend the access
// gate lets see the document. Deletions reach all friends of friend-readable
// collections since the document no longer carries privacy flags.
//
// Clients do not yet attribute friend-sourced updates, so this resolver is
// only installed when explicitly enabled.
type FriendFanoutResolver struct {
	friends repository.FriendStore
	gate    *AccessGate
	log     logger.Logger
}

// NewFriendFanoutResolver creates a FriendFanoutResolver.
func NewFriendFanoutResolver(friends repository.FriendStore, gate *AccessGate, log logger.Logger) *FriendFanoutResolver {
	return &FriendFanoutResolver{friends: friends, gate: gate, log: log}
}

// Resolve implements RecipientResolver.
func (r *FriendFanoutResolver) Resolve(ctx context.Context, event model.ChangeEvent) ([]string, error) {
	if event.OwnerID == "" {
		return nil, nil
	}
	recipients := []string{event.OwnerID}
	if !r.gate.IsFriendReadable(event.Collection) {
		return recipients, nil
	}

	friends, err := r.friends.Friends(ctx, event.OwnerID)
	if err != nil {
		return recipients, fmt.Errorf("load friends of %s: %w", event.OwnerID, err)
	}

	seen := map[string]struct{}{event.OwnerID: {}}
	for _, f := range friends {
		if _, dup := seen[f.FriendUID]; dup || f.FriendUID == "" {
			continue
		}

		if event.Operation != model.OperationDeleted {
			res, err := r.gate.CanReadAsFriend(f, event.Snapshot, event.Collection)
			if err != nil {
				r.log.Warn("Skipping friend after visibility error",
					zap.String("owner", event.OwnerID),
					zap.String("friend", f.FriendUID),
					zap.Error(err))
				continue
			}
			if !res.Allowed {
				continue
			}
		}

		seen[f.FriendUID] = struct{}{}
		recipients = append(recipients, f.FriendUID)
	}
	return recipients, nil
}
