// Package paramstore reads widget configuration overlays from AWS Systems
// Manager Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"go.uber.org/zap"
)

// ErrNotFound is returned when the parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client resolves parameter names under an optional prefix and returns
// their decrypted values. It satisfies config.ParamGetter.
type Client struct {
	api     ssmAPI
	prefix  string
	decrypt bool
	logger  *zap.Logger
}

type Option func(*Client)

// WithPrefix joins every requested name onto prefix, e.g. "/widgets/prod".
func WithPrefix(prefix string) Option {
	return func(c *Client) {
		c.prefix = strings.TrimSpace(prefix)
	}
}

// WithDecryption controls SecureString decryption. It is on by default.
func WithDecryption(decrypt bool) Option {
	return func(c *Client) {
		c.decrypt = decrypt
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	c := &Client{api: api, decrypt: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the fully qualified parameter name for name.
func (c *Client) Name(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || c.prefix == "" || strings.HasPrefix(name, "/") {
		return name
	}
	return path.Join(c.prefix, name)
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = c.Name(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	decrypt := c.decrypt
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &decrypt,
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	c.logger.Debug("loaded parameter", zap.String("name", name), zap.Int64("version", out.Parameter.Version))
	return *out.Parameter.Value, nil
}
