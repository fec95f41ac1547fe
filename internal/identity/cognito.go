package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/metrics"
	"github.com/shindakun/authweb/internal/models"
	"github.com/shindakun/authweb/internal/storage"
)

const codeNotAuthorized = "NotAuthorizedException"

// CognitoAPI is the subset of the Cognito user pool API used by this client
type CognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	SignUp(ctx context.Context, params *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, params *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
	ResendConfirmationCode(ctx context.Context, params *cip.ResendConfirmationCodeInput, optFns ...func(*cip.Options)) (*cip.ResendConfirmationCodeOutput, error)
	RevokeToken(ctx context.Context, params *cip.RevokeTokenInput, optFns ...func(*cip.Options)) (*cip.RevokeTokenOutput, error)
	GlobalSignOut(ctx context.Context, params *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
}

// CognitoOptions configures the Cognito provider
type CognitoOptions struct {
	UserPoolID    string
	ClientID      string
	ClientSecret  string
	Region        string
	GlobalSignOut bool          // sign out every device instead of revoking this browser's refresh token
	RefreshSkew   time.Duration // refresh tokens this long before they expire
	Metrics       *metrics.Metrics
}

// NewCognitoAPI builds a user pool client. The public user pool operations do
// not need AWS credentials, so requests are sent unsigned.
func NewCognitoAPI(ctx context.Context, region string, httpClient *http.Client) (*cip.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}),
	}
	if httpClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(httpClient))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return cip.NewFromConfig(awsCfg), nil
}

// Cognito is a Provider backed by an Amazon Cognito user pool.
// Tokens are kept in a TokenStore keyed by browser session id.
type Cognito struct {
	api    CognitoAPI
	store  storage.TokenStore
	opts   CognitoOptions
	issuer string
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewCognito returns a provider using api for remote calls and store for tokens
func NewCognito(api CognitoAPI, store storage.TokenStore, opts CognitoOptions, logger *zap.SugaredLogger) *Cognito {
	if opts.RefreshSkew == 0 {
		opts.RefreshSkew = time.Minute
	}

	var issuer string
	if opts.UserPoolID != "" && opts.Region != "" {
		issuer = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", opts.Region, opts.UserPoolID)
	}

	return &Cognito{
		api:    api,
		store:  store,
		opts:   opts,
		issuer: issuer,
		logger: logger.Named("cognito"),
		now:    time.Now,
	}
}

// ForSession implements Provider
func (c *Cognito) ForSession(sessionID string, hub *Hub) Client {
	return &cognitoSession{c: c, sessionID: sessionID, hub: hub}
}

// MoveSession implements Provider
func (c *Cognito) MoveSession(ctx context.Context, fromID, toID string) error {
	tokens, err := c.store.LoadTokens(ctx, fromID)
	if errors.Is(err, storage.ErrNoTokens) {
		return ErrNoCurrentUser
	}
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}

	if err := c.store.SaveTokens(ctx, toID, tokens); err != nil {
		return err
	}
	if err := c.store.DeleteTokens(ctx, fromID); err != nil {
		return err
	}
	return nil
}

// secretHash computes SECRET_HASH for app clients that have a secret
func (c *Cognito) secretHash(username string) *string {
	if c.opts.ClientSecret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(c.opts.ClientSecret))
	mac.Write([]byte(username + c.opts.ClientID))
	return aws.String(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// fail converts an SDK error into *Error and records it
func (c *Cognito) fail(op string, err error) error {
	c.opts.Metrics.ObserveIdentity(op, err)

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		c.logger.Warnw("identity operation rejected", "op", op, "code", apiErr.ErrorCode(), "message", apiErr.ErrorMessage())
		return &Error{Code: apiErr.ErrorCode(), Message: apiErr.ErrorMessage(), Err: err}
	}

	c.logger.Errorw("identity operation failed", "op", op, "error", err)
	return &Error{Code: "RequestFailed", Err: err}
}

func (c *Cognito) succeed(op string) {
	c.opts.Metrics.ObserveIdentity(op, nil)
}

// tokensFromResult maps an authentication result. fallbackRefresh is kept when
// the provider does not rotate the refresh token.
func (c *Cognito) tokensFromResult(res *types.AuthenticationResultType, fallbackRefresh string) (*models.Tokens, error) {
	tokens := &models.Tokens{
		IDToken:      aws.ToString(res.IdToken),
		AccessToken:  aws.ToString(res.AccessToken),
		RefreshToken: aws.ToString(res.RefreshToken),
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = fallbackRefresh
	}
	if tokens.IDToken == "" {
		return nil, errors.New("authentication result has no id token")
	}

	claims, err := parseIDToken(tokens.IDToken)
	if err != nil {
		return nil, err
	}
	tokens.ExpiresAt = claims.expiry()
	if tokens.ExpiresAt.IsZero() && res.ExpiresIn > 0 {
		tokens.ExpiresAt = c.now().Add(time.Duration(res.ExpiresIn) * time.Second)
	}

	return tokens, nil
}

// cognitoSession is the Client for one browser session
type cognitoSession struct {
	c         *Cognito
	sessionID string
	hub       *Hub
}

func (s *cognitoSession) SignIn(ctx context.Context, creds models.LoginCredentials) error {
	params := map[string]string{
		"USERNAME": creds.Username,
		"PASSWORD": creds.Password,
	}
	if hash := s.c.secretHash(creds.Username); hash != nil {
		params["SECRET_HASH"] = *hash
	}

	out, err := s.c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(s.c.opts.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		return s.c.fail("sign_in", err)
	}

	if out.ChallengeName != "" {
		s.c.opts.Metrics.ObserveIdentity("sign_in", errors.New("challenge"))
		return &Error{
			Code:    string(out.ChallengeName),
			Message: fmt.Sprintf("Sign-in requires an additional step that is not supported: %s", out.ChallengeName),
		}
	}
	if out.AuthenticationResult == nil {
		return s.c.fail("sign_in", errors.New("empty authentication result"))
	}

	tokens, err := s.c.tokensFromResult(out.AuthenticationResult, "")
	if err != nil {
		return s.c.fail("sign_in", err)
	}
	if err := s.c.store.SaveTokens(ctx, s.sessionID, tokens); err != nil {
		return s.c.fail("sign_in", err)
	}

	s.c.succeed("sign_in")
	s.hub.Publish(EventSignedIn)
	return nil
}

func (s *cognitoSession) SignUp(ctx context.Context, creds models.SignupCredentials) error {
	_, err := s.c.api.SignUp(ctx, &cip.SignUpInput{
		ClientId:   aws.String(s.c.opts.ClientID),
		Username:   aws.String(creds.Username),
		Password:   aws.String(creds.Password),
		SecretHash: s.c.secretHash(creds.Username),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(creds.Email)},
		},
	})
	if err != nil {
		return s.c.fail("sign_up", err)
	}

	s.c.succeed("sign_up")
	return nil
}

func (s *cognitoSession) ConfirmSignUp(ctx context.Context, req models.ConfirmSignupRequest) error {
	_, err := s.c.api.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(s.c.opts.ClientID),
		Username:         aws.String(req.Username),
		ConfirmationCode: aws.String(req.ConfirmationCode),
		SecretHash:       s.c.secretHash(req.Username),
	})
	if err != nil {
		return s.c.fail("confirm_sign_up", err)
	}

	s.c.succeed("confirm_sign_up")
	return nil
}

func (s *cognitoSession) ResendSignUpCode(ctx context.Context, username string) error {
	_, err := s.c.api.ResendConfirmationCode(ctx, &cip.ResendConfirmationCodeInput{
		ClientId:   aws.String(s.c.opts.ClientID),
		Username:   aws.String(username),
		SecretHash: s.c.secretHash(username),
	})
	if err != nil {
		return s.c.fail("resend_sign_up_code", err)
	}

	s.c.succeed("resend_sign_up_code")
	return nil
}

// SignOut invalidates this browser's tokens at the provider, then forgets them.
// A provider answer of NotAuthorized means they were already invalid.
func (s *cognitoSession) SignOut(ctx context.Context) error {
	tokens, err := s.c.store.LoadTokens(ctx, s.sessionID)
	if err != nil && !errors.Is(err, storage.ErrNoTokens) {
		return s.c.fail("sign_out", err)
	}

	if tokens != nil {
		if err := s.revoke(ctx, tokens); err != nil && ErrorCode(err) != codeNotAuthorized {
			return err
		}
		if err := s.c.store.DeleteTokens(ctx, s.sessionID); err != nil {
			return s.c.fail("sign_out", err)
		}
	}

	s.c.succeed("sign_out")
	s.hub.Publish(EventSignedOut)
	return nil
}

func (s *cognitoSession) revoke(ctx context.Context, tokens *models.Tokens) error {
	var err error
	switch {
	case s.c.opts.GlobalSignOut && tokens.AccessToken != "":
		_, err = s.c.api.GlobalSignOut(ctx, &cip.GlobalSignOutInput{
			AccessToken: aws.String(tokens.AccessToken),
		})
	case tokens.RefreshToken != "":
		input := &cip.RevokeTokenInput{
			ClientId: aws.String(s.c.opts.ClientID),
			Token:    aws.String(tokens.RefreshToken),
		}
		if s.c.opts.ClientSecret != "" {
			input.ClientSecret = aws.String(s.c.opts.ClientSecret)
		}
		_, err = s.c.api.RevokeToken(ctx, input)
	}
	if err != nil {
		return s.c.fail("sign_out", err)
	}
	return nil
}

// GetCurrentUser reads the signed-in user from the stored id token without a network call
func (s *cognitoSession) GetCurrentUser(ctx context.Context) (*models.User, error) {
	tokens, err := s.c.store.LoadTokens(ctx, s.sessionID)
	if errors.Is(err, storage.ErrNoTokens) {
		return nil, ErrNoCurrentUser
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	claims, err := parseIDToken(tokens.IDToken)
	if err != nil {
		return nil, err
	}
	if s.c.issuer != "" && claims.Issuer != s.c.issuer {
		return nil, fmt.Errorf("id token issued by %q, expected %q", claims.Issuer, s.c.issuer)
	}

	return &models.User{
		Username: claims.username(),
		UserID:   claims.Subject,
		Email:    claims.Email,
	}, nil
}

// FetchAuthSession returns the current tokens, refreshing them when they are
// about to expire. A session with no tokens is not an error.
func (s *cognitoSession) FetchAuthSession(ctx context.Context) (*models.AuthSession, error) {
	tokens, err := s.c.store.LoadTokens(ctx, s.sessionID)
	if errors.Is(err, storage.ErrNoTokens) {
		return &models.AuthSession{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	if !tokens.ExpiresWithin(s.c.now(), s.c.opts.RefreshSkew) {
		return &models.AuthSession{Tokens: tokens}, nil
	}

	if tokens.RefreshToken == "" {
		s.forget(ctx, "expired without refresh token")
		return &models.AuthSession{}, nil
	}

	refreshed, err := s.refresh(ctx, tokens)
	if err != nil {
		if ErrorCode(err) == codeNotAuthorized {
			s.forget(ctx, "refresh rejected")
			return &models.AuthSession{}, nil
		}
		return nil, err
	}

	return &models.AuthSession{Tokens: refreshed}, nil
}

func (s *cognitoSession) refresh(ctx context.Context, tokens *models.Tokens) (*models.Tokens, error) {
	params := map[string]string{"REFRESH_TOKEN": tokens.RefreshToken}
	if s.c.opts.ClientSecret != "" {
		claims, err := parseIDToken(tokens.IDToken)
		if err != nil {
			return nil, err
		}
		params["SECRET_HASH"] = *s.c.secretHash(claims.username())
	}

	out, err := s.c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(s.c.opts.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, s.c.fail("refresh", err)
	}
	if out.AuthenticationResult == nil {
		return nil, s.c.fail("refresh", errors.New("empty authentication result"))
	}

	refreshed, err := s.c.tokensFromResult(out.AuthenticationResult, tokens.RefreshToken)
	if err != nil {
		return nil, s.c.fail("refresh", err)
	}
	if err := s.c.store.SaveTokens(ctx, s.sessionID, refreshed); err != nil {
		return nil, s.c.fail("refresh", err)
	}

	s.c.succeed("refresh")
	return refreshed, nil
}

// forget drops tokens that can no longer be used
func (s *cognitoSession) forget(ctx context.Context, reason string) {
	s.c.logger.Infow("clearing provider tokens", "reason", reason)
	if err := s.c.store.DeleteTokens(ctx, s.sessionID); err != nil {
		s.c.logger.Errorw("failed to clear provider tokens", "error", err)
	}
}
