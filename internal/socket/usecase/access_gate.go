package usecase

import (
	"context"
	"fmt"

	"plural-api/internal/shared/logger"
	"plural-api/internal/socket/domain/model"
	"plural-api/internal/socket/domain/repository"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

// AccessResult is the outcome of an access check.
type AccessResult struct {
	Allowed bool
	Reason  string
}

// AccessGate decides whether a viewer may read a document.
type AccessGate struct {
	friends           repository.FriendStore
	friendCollections map[string]struct{}
	program           cel.Program
	log               logger.Logger
}

// NewAccessGate compiles visibilityRule, a CEL expression over the maps
// `document` and `friend` that must evaluate to a bool.
func NewAccessGate(friends repository.FriendStore, friendCollections []string, visibilityRule string, log logger.Logger) (*AccessGate, error) {
	env, err := cel.NewEnv(
		cel.Variable("document", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("friend", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	ast, iss := env.Compile(visibilityRule)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile visibility rule: %w", iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("visibility rule must evaluate to bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build visibility program: %w", err)
	}

	set := make(map[string]struct{}, len(friendCollections))
	for _, c := range friendCollections {
		set[c] = struct{}{}
	}

	return &AccessGate{
		friends:           friends,
		friendCollections: set,
		program:           program,
		log:               log,
	}, nil
}

// IsFriendReadable reports whether friends may ever read collection.
func (g *AccessGate) IsFriendReadable(collection string) bool {
	_, ok := g.friendCollections[collection]
	return ok
}

// CanRead reports whether viewerID may read doc from collection.
func (g *AccessGate) CanRead(ctx context.Context, viewerID string, doc model.Document, collection string) (AccessResult, error) {
	if viewerID == "" {
		return AccessResult{Reason: "anonymous viewer"}, nil
	}
	owner := doc.UID()
	if owner == viewerID {
		return AccessResult{Allowed: true, Reason: "owner"}, nil
	}
	if !g.IsFriendReadable(collection) {
		return AccessResult{Reason: "collection is owner-only"}, nil
	}

	friendship, err := g.friends.Friendship(ctx, owner, viewerID)
	if err != nil {
		return AccessResult{}, fmt.Errorf("load friendship %s->%s: %w", owner, viewerID, err)
	}
	if friendship == nil {
		return AccessResult{Reason: "not a friend"}, nil
	}

	return g.CanReadAsFriend(*friendship, doc, collection)
}

// CanReadAsFriend evaluates the visibility rule for a known friendship.
func (g *AccessGate) CanReadAsFriend(friendship model.Friendship, doc model.Document, collection string) (AccessResult, error) {
	if !g.IsFriendReadable(collection) {
		return AccessResult{Reason: "collection is owner-only"}, nil
	}

	out, _, err := g.program.Eval(map[string]interface{}{
		"document": map[string]interface{}(doc),
		"friend":   friendship.AsMap(),
	})
	if err != nil {
		g.log.Warn("Visibility rule evaluation failed",
			zap.String("collection", collection),
			zap.String("friend", friendship.FriendUID),
			zap.Error(err))
		return AccessResult{Reason: "rule error"}, err
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return AccessResult{Reason: "rule returned non-bool"}, fmt.Errorf("visibility rule returned %T", out.Value())
	}
	if !allowed {
		return AccessResult{Reason: "hidden by visibility rule"}, nil
	}
	return AccessResult{Allowed: true, Reason: "friend"}, nil
}
