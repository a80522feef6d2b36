package authn

import (
	"context"
	"errors"

	"github.com/nextstrain/cli/pkg/authn/token"
	"github.com/nextstrain/cli/pkg/credstore"
	uerrors "github.com/nextstrain/cli/pkg/errors"
	"github.com/nextstrain/cli/pkg/logger"
	"github.com/nextstrain/cli/pkg/origin"
)

// User is the identity established by a login, extracted from the
// verified identity token.
type User struct {
	Username string
	Groups   []string
	Email    string
}

func userFromClaims(claims *token.Claims) *User {
	return &User{
		Username: claims.Username,
		Groups:   claims.Groups,
		Email:    claims.Email,
	}
}

// CurrentUser returns the logged-in user for an origin, or nil when there
// is none. Saved tokens are verified; expired tokens are renewed once and
// the renewed set persisted. Any failure along the way degrades to "not
// logged in" rather than surfacing an error: a broken saved state and no
// saved state look the same to callers.
func CurrentUser(ctx context.Context, o origin.Origin) *User {
	store, err := credstore.New()
	if err != nil {
		logger.Debugf("Could not open credentials store: %v", err)
		return nil
	}

	saved, err := store.Load(ctx, o)
	if err != nil {
		logger.Debugf("Could not read saved credentials for %s: %v", o, err)
		return nil
	}
	if saved == nil {
		return nil
	}

	sess, err := New(ctx, o)
	if err != nil {
		logger.Debugf("Could not construct session for %s: %v", o, err)
		return nil
	}

	err = sess.VerifyTokens(ctx, saved.ID, saved.Access, saved.Refresh)

	var expired *token.ExpiredTokenError
	if errors.As(err, &expired) {
		logger.Debugf("Saved tokens for %s are expired; renewing", o)
		if err = sess.RenewTokens(ctx, saved.Refresh); err == nil {
			if saveErr := store.Save(ctx, o, sess.Tokens()); saveErr != nil {
				logger.Warnf("Could not save renewed credentials for %s: %v", o, saveErr)
			}
		}
	}

	if err != nil {
		logger.Debugf("Not logged in to %s: %v", o, err)
		return nil
	}
	return userFromClaims(sess.Claims())
}

// LoginWithBrowser performs an interactive browser login to an origin and
// persists the resulting tokens.
func LoginWithBrowser(ctx context.Context, o origin.Origin) (*User, error) {
	sess, err := New(ctx, o)
	if err != nil {
		return nil, err
	}
	if !sess.CanAuthenticateWithBrowser() {
		return nil, uerrors.NewUserError("Browser login is not supported by %s.", o)
	}
	if err := sess.AuthenticateWithBrowser(ctx); err != nil {
		return nil, loginError(err, o)
	}
	return finishLogin(ctx, o, sess)
}

// LoginWithPassword performs a direct username/password login to an
// origin, where supported, and persists the resulting tokens.
func LoginWithPassword(ctx context.Context, o origin.Origin, username, password string) (*User, error) {
	sess, err := New(ctx, o)
	if err != nil {
		return nil, err
	}
	if !sess.CanAuthenticateWithPassword() {
		return nil, uerrors.NewUserErrorWithHint(
			"Run the login command without --username to login via your browser instead.",
			"Password login is not supported by %s.", o)
	}
	if err := sess.AuthenticateWithPassword(ctx, username, password); err != nil {
		return nil, loginError(err, o)
	}
	return finishLogin(ctx, o, sess)
}

// Renew forces a token renewal from the saved refresh token and persists
// the result, regardless of whether the saved tokens are still valid.
func Renew(ctx context.Context, o origin.Origin) (*User, error) {
	store, err := credstore.New()
	if err != nil {
		return nil, err
	}
	saved, err := store.Load(ctx, o)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, uerrors.NewUserErrorWithHint(
			"Run the login command without --renew first.",
			"Not logged in to %s; there is nothing to renew.", o)
	}

	sess, err := New(ctx, o)
	if err != nil {
		return nil, err
	}
	if err := sess.RenewTokens(ctx, saved.Refresh); err != nil {
		return nil, loginError(err, o)
	}
	if err := store.Save(ctx, o, sess.Tokens()); err != nil {
		return nil, uerrors.WrapUserError(err, "Renewal succeeded but saving credentials failed")
	}
	return userFromClaims(sess.Claims()), nil
}

// Logout removes any saved credentials for an origin, reporting whether
// there were any. Tokens are not revoked server-side; they simply age out.
func Logout(ctx context.Context, o origin.Origin) (bool, error) {
	store, err := credstore.New()
	if err != nil {
		return false, err
	}
	return store.Remove(ctx, o)
}

func finishLogin(ctx context.Context, o origin.Origin, sess Session) (*User, error) {
	store, err := credstore.New()
	if err != nil {
		return nil, err
	}
	if err := store.Save(ctx, o, sess.Tokens()); err != nil {
		return nil, uerrors.WrapUserError(err, "Login succeeded but saving credentials failed")
	}
	return userFromClaims(sess.Claims()), nil
}

// loginError translates authentication failures into user-facing errors.
func loginError(err error, o origin.Origin) error {
	var notAuthorized *token.NotAuthorizedError
	if errors.As(err, &notAuthorized) {
		return uerrors.NewUserError("Login to %s failed: %s", o, notAuthorized.Reason)
	}

	var newPassword *token.NewPasswordRequiredError
	if errors.As(err, &newPassword) {
		return uerrors.NewUserErrorWithHint(
			"Please login to the website directly to set a new password, then try again here.",
			"A new password is required before you can login from the command line.")
	}

	return err
}
