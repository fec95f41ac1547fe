package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/models"
	"github.com/shindakun/authweb/internal/storage"
)

const (
	testPool     = "us-east-1_pool"
	testRegion   = "us-east-1"
	testClientID = "client-123"
	testIssuer   = "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_pool"
)

// fakeCognito records calls and answers with the configured funcs
type fakeCognito struct {
	initiateAuth func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error)
	signUp       func(*cip.SignUpInput) (*cip.SignUpOutput, error)
	confirm      func(*cip.ConfirmSignUpInput) (*cip.ConfirmSignUpOutput, error)
	resend       func(*cip.ResendConfirmationCodeInput) (*cip.ResendConfirmationCodeOutput, error)
	revoke       func(*cip.RevokeTokenInput) (*cip.RevokeTokenOutput, error)
	globalOut    func(*cip.GlobalSignOutInput) (*cip.GlobalSignOutOutput, error)
	calls        []string
}

func (f *fakeCognito) InitiateAuth(_ context.Context, in *cip.InitiateAuthInput, _ ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	f.calls = append(f.calls, "InitiateAuth:"+string(in.AuthFlow))
	return f.initiateAuth(in)
}

func (f *fakeCognito) SignUp(_ context.Context, in *cip.SignUpInput, _ ...func(*cip.Options)) (*cip.SignUpOutput, error) {
	f.calls = append(f.calls, "SignUp")
	return f.signUp(in)
}

func (f *fakeCognito) ConfirmSignUp(_ context.Context, in *cip.ConfirmSignUpInput, _ ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error) {
	f.calls = append(f.calls, "ConfirmSignUp")
	return f.confirm(in)
}

func (f *fakeCognito) ResendConfirmationCode(_ context.Context, in *cip.ResendConfirmationCodeInput, _ ...func(*cip.Options)) (*cip.ResendConfirmationCodeOutput, error) {
	f.calls = append(f.calls, "ResendConfirmationCode")
	return f.resend(in)
}

func (f *fakeCognito) RevokeToken(_ context.Context, in *cip.RevokeTokenInput, _ ...func(*cip.Options)) (*cip.RevokeTokenOutput, error) {
	f.calls = append(f.calls, "RevokeToken")
	return f.revoke(in)
}

func (f *fakeCognito) GlobalSignOut(_ context.Context, in *cip.GlobalSignOutInput, _ ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error) {
	f.calls = append(f.calls, "GlobalSignOut")
	return f.globalOut(in)
}

func makeIDToken(t *testing.T, exp time.Time, extra map[string]any) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":              "sub-1",
		"email":            "u1@example.com",
		"cognito:username": "u1",
		"token_use":        "id",
		"iss":              testIssuer,
		"exp":              exp.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return raw
}

type cognitoFixture struct {
	api     *fakeCognito
	store   *storage.MemoryTokenStore
	hub     *Hub
	events  []Event
	client  Client
	cognito *Cognito
	now     time.Time
}

func newCognitoFixture(t *testing.T, opts CognitoOptions) *cognitoFixture {
	t.Helper()
	opts.UserPoolID = testPool
	opts.Region = testRegion
	opts.ClientID = testClientID

	f := &cognitoFixture{
		api:   &fakeCognito{},
		store: storage.NewMemoryTokenStore(),
		hub:   NewHub(),
		now:   time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.cognito = NewCognito(f.api, f.store, opts, zap.NewNop().Sugar())
	f.cognito.now = func() time.Time { return f.now }
	f.hub.Listen(func(e Event) { f.events = append(f.events, e) })
	f.client = f.cognito.ForSession("browser-1", f.hub)
	return f
}

func TestSignInStoresTokensAndPublishes(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	idToken := makeIDToken(t, f.now.Add(time.Hour), nil)

	f.api.initiateAuth = func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
		assert.Equal(t, types.AuthFlowTypeUserPasswordAuth, in.AuthFlow)
		assert.Equal(t, testClientID, aws.ToString(in.ClientId))
		assert.Equal(t, "u1", in.AuthParameters["USERNAME"])
		assert.Equal(t, "pw", in.AuthParameters["PASSWORD"])
		assert.NotContains(t, in.AuthParameters, "SECRET_HASH")
		return &cip.InitiateAuthOutput{AuthenticationResult: &types.AuthenticationResultType{
			IdToken:      aws.String(idToken),
			AccessToken:  aws.String("access"),
			RefreshToken: aws.String("refresh"),
			ExpiresIn:    3600,
		}}, nil
	}

	err := f.client.SignIn(context.Background(), models.LoginCredentials{Username: "u1", Password: "pw"})
	require.NoError(t, err)

	tokens, err := f.store.LoadTokens(context.Background(), "browser-1")
	require.NoError(t, err)
	assert.Equal(t, idToken, tokens.IDToken)
	assert.Equal(t, "refresh", tokens.RefreshToken)
	assert.True(t, tokens.ExpiresAt.Equal(time.Unix(f.now.Add(time.Hour).Unix(), 0)))
	assert.Equal(t, []Event{EventSignedIn}, f.events)
}

func TestSignInFailureKeepsProviderMessage(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	f.api.initiateAuth = func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
		return nil, &types.NotAuthorizedException{Message: aws.String("Incorrect username or password.")}
	}

	err := f.client.SignIn(context.Background(), models.LoginCredentials{Username: "u1", Password: "bad"})
	require.Error(t, err)
	assert.Equal(t, "Incorrect username or password.", err.Error())
	assert.Equal(t, "NotAuthorizedException", ErrorCode(err))
	assert.Empty(t, f.events)

	_, err = f.store.LoadTokens(context.Background(), "browser-1")
	assert.ErrorIs(t, err, storage.ErrNoTokens)
}

func TestSignInUnsupportedChallenge(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	f.api.initiateAuth = func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
		return &cip.InitiateAuthOutput{ChallengeName: types.ChallengeNameTypeNewPasswordRequired}, nil
	}

	err := f.client.SignIn(context.Background(), models.LoginCredentials{Username: "u1", Password: "pw"})
	require.Error(t, err)
	assert.Equal(t, "NEW_PASSWORD_REQUIRED", ErrorCode(err))
	assert.Empty(t, f.events)
}

func TestSecretHashIsSent(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{ClientSecret: "shh"})
	expected := *f.cognito.secretHash("u1")

	f.api.signUp = func(in *cip.SignUpInput) (*cip.SignUpOutput, error) {
		assert.Equal(t, expected, aws.ToString(in.SecretHash))
		return &cip.SignUpOutput{}, nil
	}
	require.NoError(t, f.client.SignUp(context.Background(), models.SignupCredentials{Username: "u1", Password: "pw", Email: "u1@example.com"}))

	// HMAC-SHA256("shh", "u1"+clientID), base64
	assert.Len(t, expected, 44)
	assert.Nil(t, newCognitoFixture(t, CognitoOptions{}).cognito.secretHash("u1"))
}

func TestSignUpSendsEmailAttribute(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	f.api.signUp = func(in *cip.SignUpInput) (*cip.SignUpOutput, error) {
		assert.Equal(t, "u1", aws.ToString(in.Username))
		assert.Equal(t, "pw", aws.ToString(in.Password))
		require.Len(t, in.UserAttributes, 1)
		assert.Equal(t, "email", aws.ToString(in.UserAttributes[0].Name))
		assert.Equal(t, "u1@example.com", aws.ToString(in.UserAttributes[0].Value))
		return &cip.SignUpOutput{}, nil
	}

	require.NoError(t, f.client.SignUp(context.Background(), models.SignupCredentials{Username: "u1", Password: "pw", Email: "u1@example.com"}))
	assert.Empty(t, f.events)
}

func TestConfirmAndResend(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	f.api.confirm = func(in *cip.ConfirmSignUpInput) (*cip.ConfirmSignUpOutput, error) {
		assert.Equal(t, "u1", aws.ToString(in.Username))
		if aws.ToString(in.ConfirmationCode) != "123456" {
			return nil, &types.CodeMismatchException{Message: aws.String("Invalid verification code provided, please try again.")}
		}
		return &cip.ConfirmSignUpOutput{}, nil
	}
	f.api.resend = func(in *cip.ResendConfirmationCodeInput) (*cip.ResendConfirmationCodeOutput, error) {
		assert.Equal(t, "u1", aws.ToString(in.Username))
		return &cip.ResendConfirmationCodeOutput{}, nil
	}

	ctx := context.Background()
	err := f.client.ConfirmSignUp(ctx, models.ConfirmSignupRequest{Username: "u1", ConfirmationCode: "000000"})
	require.Error(t, err)
	assert.Equal(t, "Invalid verification code provided, please try again.", err.Error())

	require.NoError(t, f.client.ConfirmSignUp(ctx, models.ConfirmSignupRequest{Username: "u1", ConfirmationCode: "123456"}))
	require.NoError(t, f.client.ResendSignUpCode(ctx, "u1"))
}

func TestGetCurrentUser(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	ctx := context.Background()

	_, err := f.client.GetCurrentUser(ctx)
	assert.ErrorIs(t, err, ErrNoCurrentUser)

	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: makeIDToken(t, f.now.Add(time.Hour), nil)}))
	user, err := f.client.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, &models.User{Username: "u1", UserID: "sub-1", Email: "u1@example.com"}, user)

	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: makeIDToken(t, f.now.Add(time.Hour), map[string]any{"iss": "https://elsewhere"})}))
	_, err = f.client.GetCurrentUser(ctx)
	assert.ErrorContains(t, err, "expected")

	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: "not-a-jwt"}))
	_, err = f.client.GetCurrentUser(ctx)
	assert.ErrorContains(t, err, "parse id token")
}

func TestFetchAuthSessionWithoutTokens(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})

	session, err := f.client.FetchAuthSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session.Tokens)
	assert.Empty(t, session.IDToken())
	assert.Empty(t, f.api.calls)
}

func TestFetchAuthSessionReturnsFreshTokens(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	ctx := context.Background()
	idToken := makeIDToken(t, f.now.Add(time.Hour), nil)
	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: idToken, RefreshToken: "refresh", ExpiresAt: f.now.Add(time.Hour)}))

	session, err := f.client.FetchAuthSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, idToken, session.IDToken())
	assert.Empty(t, f.api.calls)
}

func TestFetchAuthSessionRefreshesExpiredTokens(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	ctx := context.Background()
	oldToken := makeIDToken(t, f.now.Add(-time.Minute), nil)
	newToken := makeIDToken(t, f.now.Add(time.Hour), nil)
	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: oldToken, RefreshToken: "refresh", ExpiresAt: f.now.Add(-time.Minute)}))

	f.api.initiateAuth = func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
		assert.Equal(t, types.AuthFlowTypeRefreshTokenAuth, in.AuthFlow)
		assert.Equal(t, "refresh", in.AuthParameters["REFRESH_TOKEN"])
		return &cip.InitiateAuthOutput{AuthenticationResult: &types.AuthenticationResultType{
			IdToken:     aws.String(newToken),
			AccessToken: aws.String("access-2"),
		}}, nil
	}

	session, err := f.client.FetchAuthSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, newToken, session.IDToken())
	assert.Equal(t, "refresh", session.Tokens.RefreshToken)

	stored, err := f.store.LoadTokens(ctx, "browser-1")
	require.NoError(t, err)
	assert.Equal(t, newToken, stored.IDToken)
}

func TestFetchAuthSessionClearsRejectedRefresh(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	ctx := context.Background()
	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: makeIDToken(t, f.now, nil), RefreshToken: "refresh", ExpiresAt: f.now}))

	f.api.initiateAuth = func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
		return nil, &types.NotAuthorizedException{Message: aws.String("Refresh Token has been revoked")}
	}

	session, err := f.client.FetchAuthSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, session.IDToken())

	_, err = f.store.LoadTokens(ctx, "browser-1")
	assert.ErrorIs(t, err, storage.ErrNoTokens)
}

func TestFetchAuthSessionSurfacesTransportErrors(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	ctx := context.Background()
	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: makeIDToken(t, f.now, nil), RefreshToken: "refresh", ExpiresAt: f.now}))

	f.api.initiateAuth = func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	_, err := f.client.FetchAuthSession(ctx)
	require.Error(t, err)

	// tokens survive a transient failure
	_, err = f.store.LoadTokens(ctx, "browser-1")
	assert.NoError(t, err)
}

func TestSignOutRevokesAndPublishes(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	ctx := context.Background()
	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: "id", AccessToken: "access", RefreshToken: "refresh"}))

	f.api.revoke = func(in *cip.RevokeTokenInput) (*cip.RevokeTokenOutput, error) {
		assert.Equal(t, "refresh", aws.ToString(in.Token))
		assert.Nil(t, in.ClientSecret)
		return &cip.RevokeTokenOutput{}, nil
	}

	require.NoError(t, f.client.SignOut(ctx))
	assert.Equal(t, []string{"RevokeToken"}, f.api.calls)
	assert.Equal(t, []Event{EventSignedOut}, f.events)

	_, err := f.store.LoadTokens(ctx, "browser-1")
	assert.ErrorIs(t, err, storage.ErrNoTokens)
}

func TestGlobalSignOut(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{GlobalSignOut: true})
	ctx := context.Background()
	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: "id", AccessToken: "access", RefreshToken: "refresh"}))

	f.api.globalOut = func(in *cip.GlobalSignOutInput) (*cip.GlobalSignOutOutput, error) {
		assert.Equal(t, "access", aws.ToString(in.AccessToken))
		return &cip.GlobalSignOutOutput{}, nil
	}

	require.NoError(t, f.client.SignOut(ctx))
	assert.Equal(t, []string{"GlobalSignOut"}, f.api.calls)
}

func TestSignOutTreatsNotAuthorizedAsDone(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	ctx := context.Background()
	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: "id", RefreshToken: "refresh"}))

	f.api.revoke = func(*cip.RevokeTokenInput) (*cip.RevokeTokenOutput, error) {
		return nil, &types.NotAuthorizedException{Message: aws.String("Access Token has been revoked")}
	}

	require.NoError(t, f.client.SignOut(ctx))
	assert.Equal(t, []Event{EventSignedOut}, f.events)
}

func TestSignOutFailureKeepsTokens(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	ctx := context.Background()
	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: "id", RefreshToken: "refresh"}))

	f.api.revoke = func(*cip.RevokeTokenInput) (*cip.RevokeTokenOutput, error) {
		return nil, errors.New("network unreachable")
	}

	require.Error(t, f.client.SignOut(ctx))
	assert.Empty(t, f.events)

	_, err := f.store.LoadTokens(ctx, "browser-1")
	assert.NoError(t, err)
}

func TestSignOutWithoutTokens(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})

	require.NoError(t, f.client.SignOut(context.Background()))
	assert.Empty(t, f.api.calls)
	assert.Equal(t, []Event{EventSignedOut}, f.events)
}

func TestMoveSessionRekeysTokens(t *testing.T) {
	f := newCognitoFixture(t, CognitoOptions{})
	ctx := context.Background()

	assert.ErrorIs(t, f.cognito.MoveSession(ctx, "browser-1", "browser-2"), ErrNoCurrentUser)

	idToken := makeIDToken(t, f.now.Add(time.Hour), nil)
	require.NoError(t, f.store.SaveTokens(ctx, "browser-1", &models.Tokens{IDToken: idToken, RefreshToken: "refresh"}))
	require.NoError(t, f.cognito.MoveSession(ctx, "browser-1", "browser-2"))

	_, err := f.client.GetCurrentUser(ctx)
	assert.ErrorIs(t, err, ErrNoCurrentUser)

	moved := f.cognito.ForSession("browser-2", NewHub())
	user, err := moved.GetCurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.Username)
	assert.Empty(t, f.api.calls)
}

func TestErrorFormatting(t *testing.T) {
	wrapped := errors.New("socket closed")
	assert.Equal(t, "socket closed", (&Error{Code: "RequestFailed", Err: wrapped}).Error())
	assert.Equal(t, "CodeOnly", (&Error{Code: "CodeOnly"}).Error())
	assert.ErrorIs(t, &Error{Err: wrapped}, wrapped)
	assert.Empty(t, ErrorCode(wrapped))
}
