package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/charlesng35/magiclink/pkg/logger"
)

// LoginResult is returned by a successful Login.
type LoginResult struct {
	SessionToken string
	User         *User
}

// LoginService turns a redeemed magic link into a session.
type LoginService struct {
	links    *MagicLinkService
	users    *UserDirectory
	sessions *SessionService
	log      *zap.Logger
}

// NewLoginService wires the three services involved in a login.
func NewLoginService(links *MagicLinkService, users *UserDirectory, sessions *SessionService) (*LoginService, error) {
	if links == nil || users == nil || sessions == nil {
		return nil, errors.New("login service: magic link, user and session services are required")
	}
	return &LoginService{
		links:    links,
		users:    users,
		sessions: sessions,
		log:      logger.WithModule("login"),
	}, nil
}

// Login redeems token, registers the user on first use and mints a session.
// Failing to record the login time is logged and does not fail the login.
func (l *LoginService) Login(ctx context.Context, token string, info ClientInfo) (*LoginResult, error) {
	redemption, err := l.links.Redeem(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := l.users.UpsertByAddress(ctx, redemption.Address)
	if err != nil {
		return nil, err
	}

	if err := l.users.TouchLogin(ctx, user.ID, redemption.RedeemedAt); err != nil {
		l.log.Warn("failed to record last login",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	} else {
		at := redemption.RedeemedAt
		user.LastLogin = &at
	}

	sessionToken, err := l.sessions.Create(ctx, user.ID, info)
	if err != nil {
		return nil, err
	}

	return &LoginResult{SessionToken: sessionToken, User: user}, nil
}
