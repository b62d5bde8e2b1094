// Package secrets resolves API keys kept in SSM Parameter Store.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type SSM struct {
	client SSMAPI
}

func NewSSM(client SSMAPI) *SSM {
	return &SSM{client: client}
}

// Get returns the decrypted value of the named parameter, trimmed of
// surrounding whitespace. An empty value is an error.
func (s *SSM) Get(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}

// Resolve returns direct when it is set, otherwise the value of the named
// parameter. Both empty resolves to "" without touching SSM.
func (s *SSM) Resolve(ctx context.Context, direct, param string) (string, error) {
	if direct != "" {
		return direct, nil
	}
	if param == "" {
		return "", nil
	}
	if s == nil || s.client == nil {
		return "", xerrors.Newf("SSM parameter %s configured without an SSM client", param)
	}
	return s.Get(ctx, param)
}
