package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cauldronio/poolsched/internal/domain"
	"github.com/cauldronio/poolsched/internal/email"
	"github.com/cauldronio/poolsched/internal/repository"
)

// Sign-in is passwordless. An account is keyed by email and created on
// first contact; the API mails a one-shot link, and redeeming that link
// mints the session JWT every other endpoint authenticates with.

const (
	jwtIssuer = "poolsched"

	linkTTL    = 15 * time.Minute
	sessionTTL = 24 * time.Hour
)

type AuthUsecase struct {
	users   repository.UserRepository
	mail    email.Sender
	signKey []byte
	baseURL string
}

func NewAuthUsecase(users repository.UserRepository, mail email.Sender, signKey []byte, baseURL string) *AuthUsecase {
	return &AuthUsecase{
		users:   users,
		mail:    mail,
		signKey: signKey,
		baseURL: baseURL,
	}
}

// StartSignIn mails a single-use sign-in link. Only the SHA-256 of the
// link token is stored, so a leaked database does not leak usable links.
func (u *AuthUsecase) StartSignIn(ctx context.Context, addr string) error {
	user, err := u.users.FindOrCreate(ctx, addr)
	if err != nil {
		return fmt.Errorf("find or create user: %w", err)
	}

	token, err := newLinkToken()
	if err != nil {
		return err
	}
	expiresAt := time.Now().Add(linkTTL)
	if err := u.users.CreateMagicToken(ctx, user.ID, hashLinkToken(token), expiresAt); err != nil {
		return fmt.Errorf("store sign-in token: %w", err)
	}

	link := u.baseURL + "/auth/verify?token=" + token
	body := fmt.Sprintf(
		"<p>Sign in to poolsched:</p><p><a href=%q>%s</a></p><p>The link works once and expires in %d minutes.</p>",
		link, link, int(linkTTL.Minutes()),
	)
	if err := u.mail.Send(ctx, addr, "Sign in to poolsched", body); err != nil {
		return fmt.Errorf("send sign-in link: %w", err)
	}
	return nil
}

// FinishSignIn redeems a link token and returns the signed session JWT.
// Redemption is single-shot: the stored hash is claimed atomically, so a
// reused, expired, or unknown link fails with ErrTokenInvalid.
func (u *AuthUsecase) FinishSignIn(ctx context.Context, token string) (string, error) {
	mt, err := u.users.ClaimMagicToken(ctx, hashLinkToken(token))
	if err != nil {
		return "", domain.ErrTokenInvalid
	}

	user, err := u.users.FindByID(ctx, mt.UserID)
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    jwtIssuer,
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(u.signKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func newLinkToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate sign-in token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func hashLinkToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
