// Package conversation maps senders to conversation ids and tracks the
// requests running against each conversation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatline/internal/provider"
)

// Deleter removes a conversation's history.
type Deleter interface {
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Resolver computes conversation ids. Groups share one id across members
// unless isolation is on.
type Resolver struct {
	isolated func() bool
}

// NewResolver creates a resolver. isolated reports the current group
// isolation flag and may be nil.
func NewResolver(isolated func() bool) *Resolver {
	if isolated == nil {
		isolated = func() bool { return false }
	}
	return &Resolver{isolated: isolated}
}

// Resolve returns the conversation id for a sender.
func (r *Resolver) Resolve(userID, groupID string) string {
	if groupID != "" {
		if r.isolated() && userID != "" {
			return "group:" + groupID + ":user:" + userID
		}
		return "group:" + groupID
	}
	return "user:" + userID
}

// Shared reports whether the conversation is seen by several participants.
func (r *Resolver) Shared(groupID string) bool {
	return groupID != "" && !r.isolated()
}

// LegacyIDs returns the ids older releases used for the same sender.
func LegacyIDs(userID, groupID string) []string {
	if groupID != "" {
		return []string{groupID + "_" + userID, "group_" + groupID}
	}
	return []string{userID}
}

// Delete clears the current and legacy histories of a sender.
func (r *Resolver) Delete(ctx context.Context, store Deleter, userID, groupID string) error {
	ids := append([]string{r.Resolve(userID, groupID)}, LegacyIDs(userID, groupID)...)
	var errs []error
	for _, id := range ids {
		if err := store.DeleteConversation(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// LabelSender prefixes the text segments of msg with the sender's name so a
// shared history keeps participants apart. Messages without a sender are
// returned unchanged.
func LabelSender(msg provider.Message) provider.Message {
	name := msg.Sender.DisplayName()
	if name == "" || msg.Role != provider.RoleUser {
		return msg
	}
	label := fmt.Sprintf("[%s]", name)
	if msg.Sender.UserID != "" && name != msg.Sender.UserID {
		label = fmt.Sprintf("[%s(%s)]", name, msg.Sender.UserID)
	}

	out := msg
	out.Content = make([]provider.Content, len(msg.Content))
	copy(out.Content, msg.Content)
	for i, c := range out.Content {
		if c.Type == provider.ContentTypeText && !strings.HasPrefix(c.Text, label) {
			out.Content[i].Text = label + ": " + c.Text
			break
		}
	}
	return out
}
