// SigV4 signing for Bedrock enrichment calls.
package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

const defaultBedrockRegion = "us-east-1"

// BedrockTransport signs outgoing requests with AWS SigV4 for the
// bedrock-runtime service. CallLLM wraps its HTTP client with one when
// the enrichment provider is "bedrock".
type BedrockTransport struct {
	creds  aws.CredentialsProvider
	region string
	signer *v4.Signer
	next   http.RoundTripper
}

// NewBedrockTransport loads the standard AWS credential chain and fails
// fast when no credentials resolve, so a misconfigured provider surfaces
// at startup rather than on the first scan. A nil next falls back to
// http.DefaultTransport.
func NewBedrockTransport(region string, next http.RoundTripper) (*BedrockTransport, error) {
	if region == "" {
		region = defaultBedrockRegion
	}
	if next == nil {
		next = http.DefaultTransport
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	if _, err := cfg.Credentials.Retrieve(context.Background()); err != nil {
		return nil, fmt.Errorf("aws credentials: %w", err)
	}

	return &BedrockTransport{
		creds:  cfg.Credentials,
		region: region,
		signer: v4.NewSigner(),
		next:   next,
	}, nil
}

// RoundTrip signs a clone of the request and forwards it. The body is
// buffered because SigV4 hashes the full payload.
func (t *BedrockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
	}

	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(payload))

	creds, err := t.creds.Retrieve(req.Context())
	if err != nil {
		return nil, fmt.Errorf("aws credentials: %w", err)
	}

	sum := sha256.Sum256(payload)
	if err := t.signer.SignHTTP(req.Context(), creds, signed,
		hex.EncodeToString(sum[:]), "bedrock", t.region, time.Now()); err != nil {
		return nil, fmt.Errorf("sign bedrock request: %w", err)
	}

	signed.Body = io.NopCloser(bytes.NewReader(payload))
	return t.next.RoundTrip(signed)
}
