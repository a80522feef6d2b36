// Package cognito implements direct username/password authentication
// against an AWS Cognito user pool using the Secure Remote Password
// protocol. It exists for the one provider family that cannot offer the
// standard OAuth2 password grant.
package cognito

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"

	"github.com/nextstrain/cli/pkg/authn/token"
	"github.com/nextstrain/cli/pkg/logger"
)

// api is the slice of the Cognito identity provider API this client uses,
// abstracted for tests.
type api interface {
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput,
		opts ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, in *cip.RespondToAuthChallengeInput,
		opts ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error)
}

// Client authenticates users against one Cognito user pool.
type Client struct {
	api      api
	clientID string
	poolName string
}

// NewClient creates a Client for the given user pool and app client. The
// pool's region is encoded in its id ("us-east-1_Cg5rcTged"); all calls
// are unauthenticated API operations, so anonymous credentials are used.
func NewClient(userPoolID, clientID string) (*Client, error) {
	region, poolName, err := splitUserPoolID(userPoolID)
	if err != nil {
		return nil, err
	}

	svc := cip.New(cip.Options{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
	})

	return &Client{
		api:      svc,
		clientID: clientID,
		poolName: poolName,
	}, nil
}

// Login runs the SRP exchange for the given credentials and returns the
// resulting token triple. Rejected credentials surface as
// token.NotAuthorizedError with the provider's own message; a provider
// demand for an interactive password change surfaces as
// token.NewPasswordRequiredError.
func (c *Client) Login(ctx context.Context, username, password string) (*token.Set, error) {
	exchange, err := newSRPExchange()
	if err != nil {
		return nil, err
	}

	initiated, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserSrpAuth,
		ClientId: aws.String(c.clientID),
		AuthParameters: map[string]string{
			"USERNAME": username,
			"SRP_A":    exchange.publicHex(),
		},
	})
	if err != nil {
		return nil, mapAPIError(err)
	}

	if initiated.ChallengeName != types.ChallengeNameTypePasswordVerifier {
		return nil, fmt.Errorf("unexpected authentication challenge %q", initiated.ChallengeName)
	}

	params := initiated.ChallengeParameters
	userID := params["USER_ID_FOR_SRP"]
	now := time.Now().UTC()

	signature, err := exchange.passwordClaimSignature(
		c.poolName, userID, password,
		params["SRP_B"], params["SALT"], params["SECRET_BLOCK"],
		now,
	)
	if err != nil {
		return nil, err
	}

	answered, err := c.api.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
		ChallengeName: types.ChallengeNameTypePasswordVerifier,
		ClientId:      aws.String(c.clientID),
		ChallengeResponses: map[string]string{
			"TIMESTAMP":                   now.Format(timestampLayout),
			"USERNAME":                    userID,
			"PASSWORD_CLAIM_SECRET_BLOCK": params["SECRET_BLOCK"],
			"PASSWORD_CLAIM_SIGNATURE":    signature,
		},
	})
	if err != nil {
		return nil, mapAPIError(err)
	}

	if answered.ChallengeName == types.ChallengeNameTypeNewPasswordRequired {
		return nil, &token.NewPasswordRequiredError{}
	}

	result := answered.AuthenticationResult
	if result == nil {
		return nil, fmt.Errorf("authentication ended with unexpected challenge %q", answered.ChallengeName)
	}

	logger.Debugf("SRP authentication for %q succeeded", username)

	return &token.Set{
		ID:      aws.ToString(result.IdToken),
		Access:  aws.ToString(result.AccessToken),
		Refresh: aws.ToString(result.RefreshToken),
	}, nil
}

// mapAPIError converts provider API failures into the session error
// taxonomy where a specific meaning exists.
func mapAPIError(err error) error {
	var notAuthorized *types.NotAuthorizedException
	if errors.As(err, &notAuthorized) {
		return &token.NotAuthorizedError{Reason: notAuthorized.ErrorMessage()}
	}

	var passwordReset *types.PasswordResetRequiredException
	if errors.As(err, &passwordReset) {
		return &token.NewPasswordRequiredError{}
	}

	return err
}

func splitUserPoolID(userPoolID string) (region, poolName string, err error) {
	region, poolName, found := strings.Cut(userPoolID, "_")
	if !found || region == "" || poolName == "" {
		return "", "", fmt.Errorf("malformed user pool id %q", userPoolID)
	}
	return region, poolName, nil
}
