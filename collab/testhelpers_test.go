package collab

import (
	"context"
	"errors"
)

// stubResolver maps tokens directly to user ids
type stubResolver struct {
	tokens map[string]string
}

func (r *stubResolver) ResolveUser(ctx context.Context, token string) (string, error) {
	if userID, ok := r.tokens[token]; ok {
		return userID, nil
	}
	return "", errors.New("invalid token")
}

// stubAccess grants access based on an allow-list of user:document pairs;
// an empty map allows everyone
type stubAccess struct {
	allowed map[string]bool
}

func (a *stubAccess) ValidateDocumentAccess(ctx context.Context, userID, documentID string) bool {
	if len(a.allowed) == 0 {
		return true
	}
	return a.allowed[userID+":"+documentID]
}
