// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package audit

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/asn1"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/agenttrace/agenttrace/pkg/aterrors"
)

// oidSHA256 identifies the digest algorithm in the timestamp request.
var oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

type tsAlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type tsMessageImprint struct {
	HashAlgorithm tsAlgorithmIdentifier
	HashedMessage []byte
}

// tsRequest is the RFC 3161 TimeStampReq body. The response token is kept
// opaque: verification happens offline with the TSA's certificate, not here.
type tsRequest struct {
	Version        int
	MessageImprint tsMessageImprint
	Nonce          *big.Int `asn1:"optional"`
	CertReq        bool     `asn1:"optional,default:false"`
}

// HTTPTSAClient requests timestamp tokens from an RFC 3161 authority over
// HTTP (application/timestamp-query).
type HTTPTSAClient struct {
	url    string
	client *http.Client
}

// NewHTTPTSAClient creates a client for the authority at url.
func NewHTTPTSAClient(url string, client *http.Client) (*HTTPTSAClient, error) {
	if url == "" {
		return nil, aterrors.New(aterrors.KindValidation, "tsa url required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTSAClient{url: url, client: client}, nil
}

// Timestamp implements TSAClient.
func (c *HTTPTSAClient) Timestamp(ctx context.Context, digest Hash) (*TimestampToken, error) {
	nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindIntegrity, err, "generate tsa nonce")
	}
	body, err := asn1.Marshal(tsRequest{
		Version: 1,
		MessageImprint: tsMessageImprint{
			HashAlgorithm: tsAlgorithmIdentifier{
				Algorithm:  oidSHA256,
				Parameters: asn1.NullRawValue,
			},
			HashedMessage: digest[:],
		},
		Nonce:   nonce,
		CertReq: true,
	})
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindIntegrity, err, "encode timestamp request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindIntegrity, err, "create timestamp request")
	}
	req.Header.Set("Content-Type", "application/timestamp-query")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindIntegrity, err, "timestamp authority unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, aterrors.New(aterrors.KindIntegrity, "timestamp authority returned status %d", resp.StatusCode)
	}
	token, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, aterrors.Wrap(aterrors.KindIntegrity, err, "read timestamp token")
	}
	if len(token) == 0 {
		return nil, aterrors.New(aterrors.KindIntegrity, "timestamp authority returned empty token")
	}
	return &TimestampToken{
		TSA:           c.url,
		Token:         token,
		TimestampedAt: time.Now().UTC(),
	}, nil
}
