package requests

import (
	"errors"
	"strings"
)

// ErrTargetNotFound indicates that a reaction target is neither the request nor one of its comments.
var ErrTargetNotFound = errors.New("requests: reaction target not found")

// Reactor identifies the user toggling a reaction.
type Reactor struct {
	UserID   string
	UserName string
}

// ToggleReaction applies one user's emoji to a reaction list. A user holds at
// most one reaction per target: reacting with the emoji already held removes
// it, reacting with a different emoji replaces it. The input is not modified.
func ToggleReaction(current []Reaction, reactor Reactor, emoji string) []Reaction {
	emoji = strings.TrimSpace(emoji)
	next := make([]Reaction, 0, len(current)+1)
	var held *Reaction
	for index := range current {
		if current[index].UserID == reactor.UserID {
			held = &current[index]
			continue
		}
		next = append(next, current[index])
	}
	if held != nil && held.Emoji == emoji {
		return next
	}
	if emoji == "" {
		return next
	}
	return append(next, Reaction{Emoji: emoji, UserID: reactor.UserID, UserName: reactor.UserName})
}

// WithReaction toggles a reaction on the request itself when targetID equals
// the request id, or on the comment carrying targetID.
func (r Request) WithReaction(targetID string, reactor Reactor, emoji string) (Request, error) {
	if targetID == "" {
		return r, ErrTargetNotFound
	}
	if targetID == r.ID {
		r.Reactions = ToggleReaction(r.Reactions, reactor, emoji)
		return r, nil
	}
	for index, comment := range r.Comments {
		if comment.ID != targetID {
			continue
		}
		comments := make([]Comment, len(r.Comments))
		copy(comments, r.Comments)
		comment.Reactions = ToggleReaction(comment.Reactions, reactor, emoji)
		comments[index] = comment
		r.Comments = comments
		return r, nil
	}
	return r, ErrTargetNotFound
}
