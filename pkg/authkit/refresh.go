package authkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/sessionkit/pkg/authsdk"
	"github.com/aussiebroadwan/sessionkit/pkg/poller"
	"github.com/aussiebroadwan/sessionkit/pkg/session"
)

func (c *Client) refreshConsumer(ctx context.Context, opaque string) (session.UserSession, session.Tokens, error) {
	api, err := c.API()
	if err != nil {
		return session.UserSession{}, session.Tokens{}, err
	}
	resp, err := api.AuthenticateSession(ctx, opaque)
	if err != nil {
		return session.UserSession{}, session.Tokens{}, err
	}
	return resp.Session, resp.Tokens(), nil
}

func (c *Client) refreshMember(ctx context.Context, opaque string) (session.MemberSession, session.Tokens, error) {
	api, err := c.API()
	if err != nil {
		return session.MemberSession{}, session.Tokens{}, err
	}
	resp, err := api.AuthenticateMemberSession(ctx, opaque)
	if err != nil {
		return session.MemberSession{}, session.Tokens{}, err
	}
	return resp.MemberSession, resp.Tokens(), nil
}

// RefreshSession re-authenticates the consumer session now instead of
// waiting for the next tick. It takes turns with the background refresh. A
// rejected credential clears the slot the same way a background refresh
// would.
func (c *Client) RefreshSession(ctx context.Context) (*session.UserSession, error) {
	return refreshNow(ctx, c.consumerPoller)
}

// RefreshMemberSession is RefreshSession for the member slot.
func (c *Client) RefreshMemberSession(ctx context.Context) (*session.MemberSession, error) {
	return refreshNow(ctx, c.memberPoller)
}

func refreshNow[T session.Value](ctx context.Context, ctrl *poller.Controller[T]) (*T, error) {
	sess, err := ctrl.Refresh(ctx)
	if errors.Is(err, poller.ErrNoSessionToken) {
		return nil, ErrNoActiveSession
	}
	return sess, err
}

// Revoke ends the consumer session. The refresh timer stops first. When the
// revoke call fails the tokens are kept, so it can be retried, unless
// forceClear is set; either way the error is returned.
func (c *Client) Revoke(ctx context.Context, forceClear bool) error {
	return revokeSlot(ctx, c, forceClear, c.consumer, c.consumerPoller, func(api *authsdk.Client, token string) error {
		return api.RevokeSession(ctx, token)
	})
}

// RevokeMember is Revoke for the member slot.
func (c *Client) RevokeMember(ctx context.Context, forceClear bool) error {
	return revokeSlot(ctx, c, forceClear, c.member, c.memberPoller, func(api *authsdk.Client, token string) error {
		return api.RevokeMemberSession(ctx, token)
	})
}

func revokeSlot[T session.Value](
	ctx context.Context,
	c *Client,
	forceClear bool,
	store *session.Store[T],
	ctrl *poller.Controller[T],
	call func(api *authsdk.Client, token string) error,
) error {
	ctrl.Stop()

	opaque, err := store.SessionToken(ctx)
	if err != nil {
		return err
	}
	if opaque == "" {
		// Nothing to revoke remotely. Drop whatever is left, such as an
		// intermediate token.
		return store.Reset(ctx, session.ReasonRevoked)
	}

	api, err := c.API()
	if err == nil {
		err = call(api, opaque)
	}
	if err != nil {
		if forceClear {
			c.logger.Warn("revoke failed, clearing session anyway", "slot", store.Slot().String(), "error", err)
			return errors.Join(fmt.Errorf("revoking session: %w", err), store.Reset(ctx, session.ReasonRevoked))
		}

		// Keep refreshing the session we could not revoke.
		if jwt, jwtErr := store.SessionJWT(ctx); jwtErr == nil && jwt != "" {
			ctrl.Start(jwt)
		}
		return fmt.Errorf("revoking session: %w", err)
	}

	return store.Reset(ctx, session.ReasonRevoked)
}
