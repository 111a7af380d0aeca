package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v68/github"
	"github.com/rs/zerolog/log"
)

// GithubConfig selects how the service authenticates to GitHub: a personal
// or bot token, or a GitHub App installation.
type GithubConfig struct {
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	PrivateKeyPEM  []byte
	// APIURL points at a GitHub Enterprise Server API. Empty means github.com.
	APIURL string
}

// NewGithubClient builds a go-github client for cfg.
func NewGithubClient(cfg GithubConfig) (*github.Client, error) {
	var client *github.Client
	switch {
	case cfg.Token != "":
		client = github.NewClient(nil).WithAuthToken(cfg.Token)
	case cfg.AppID != 0:
		src, err := NewAppTokenSource(cfg)
		if err != nil {
			return nil, err
		}
		client = github.NewClient(&http.Client{Transport: &Transport{Source: src}})
	default:
		return nil, errors.New("github token or app credentials are required")
	}

	if cfg.APIURL != "" {
		return client.WithEnterpriseURLs(cfg.APIURL, cfg.APIURL)
	}
	return client, nil
}

// AppJWT signs the short-lived RS256 token that authenticates as the App
// itself.
func AppJWT(appID int64, key *rsa.PrivateKey, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		// backdated to absorb clock drift
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    strconv.FormatInt(appID, 10),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

// AppTokenSource exchanges App JWTs for installation tokens and caches each
// token until shortly before it expires.
type AppTokenSource struct {
	appID          int64
	installationID int64
	key            *rsa.PrivateKey
	apiURL         string
	now            func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAppTokenSource loads the App's private key from cfg.
func NewAppTokenSource(cfg GithubConfig) (*AppTokenSource, error) {
	if cfg.InstallationID == 0 {
		return nil, errors.New("github app installation id is required")
	}
	pem := cfg.PrivateKeyPEM
	if len(pem) == 0 {
		if cfg.PrivateKeyPath == "" {
			return nil, errors.New("github app private key is required")
		}
		b, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read github app private key: %w", err)
		}
		pem = b
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse github app private key: %w", err)
	}
	return &AppTokenSource{
		appID:          cfg.AppID,
		installationID: cfg.InstallationID,
		key:            key,
		apiURL:         cfg.APIURL,
		now:            time.Now,
	}, nil
}

// Token returns a valid installation token.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(time.Minute).Before(s.expires) {
		return s.token, nil
	}

	signed, err := AppJWT(s.appID, s.key, now)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}
	client := github.NewClient(nil).WithAuthToken(signed)
	if s.apiURL != "" {
		if client, err = client.WithEnterpriseURLs(s.apiURL, s.apiURL); err != nil {
			return "", err
		}
	}

	tok, _, err := client.Apps.CreateInstallationToken(ctx, s.installationID, nil)
	if err != nil {
		return "", fmt.Errorf("create installation token: %w", err)
	}
	s.token = tok.GetToken()
	s.expires = tok.GetExpiresAt().Time
	log.Debug().Int64("installation", s.installationID).Time("expires", s.expires).Msg("refreshed installation token")
	return s.token, nil
}

// Transport adds an installation token to every request.
type Transport struct {
	Source interface {
		Token(ctx context.Context) (string, error)
	}
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Source.Token(req.Context())
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}
