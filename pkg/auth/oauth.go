// Package auth obtains OAuth2 credentials for the Google Calendar backend.
// The client secrets file and the cached token live in the duet config dir.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/duet/pkg/config"
)

const (
	// ClientSecretsFile is the credentials.json downloaded from the Google
	// Cloud console for a desktop OAuth client.
	ClientSecretsFile = "credentials.json"
	TokenFile         = "token.json"

	// LoopbackPort receives the authorization redirect.
	LoopbackPort = "6789"

	authTimeout = 5 * time.Minute
)

// Scopes are the permissions the calendar backend needs.
var Scopes = []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope}

var ErrNoToken = errors.New("no cached token, run `duet auth` first")

// LoadConfig builds the OAuth2 config from the client secrets file.
func LoadConfig(scopes []string) (*oauth2.Config, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, ClientSecretsFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", path, err)
	}
	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	cfg.RedirectURL = loopbackRedirect(cfg.RedirectURL)
	return cfg, nil
}

// loopbackRedirect points a desktop client's redirect at the local listener.
func loopbackRedirect(redirect string) string {
	fallback := fmt.Sprintf("http://localhost:%s/oauth2callback", LoopbackPort)
	if redirect == "" || redirect == "urn:ietf:wg:oauth:2.0:oob" {
		return fallback
	}
	u, err := url.Parse(redirect)
	if err != nil {
		log.Printf("Warning: Could not parse RedirectURL '%s': %v. Using %s.", redirect, err, fallback)
		return fallback
	}
	host := u.Hostname()
	if host != "localhost" && host != "127.0.0.1" {
		log.Printf("Warning: RedirectURL %s is not a loopback address; the local callback will not receive it.", redirect)
		return redirect
	}
	if u.Port() != LoopbackPort {
		u.Host = net.JoinHostPort(host, LoopbackPort)
	}
	return u.String()
}

func tokenPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, TokenFile), nil
}

// Client returns an HTTP client that refreshes the cached token. It does
// not start the browser flow; Authorize does that.
func Client(ctx context.Context, scopes []string) (*http.Client, error) {
	cfg, err := LoadConfig(scopes)
	if err != nil {
		return nil, err
	}
	path, err := tokenPath()
	if err != nil {
		return nil, err
	}
	tok, err := tokenFromFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, err
	}
	src := &savingSource{base: cfg.TokenSource(ctx, tok), path: path, last: tok}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// savingSource writes refreshed tokens back to the token file.
type savingSource struct {
	base oauth2.TokenSource
	path string
	last *oauth2.Token
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last.AccessToken || tok.RefreshToken != s.last.RefreshToken {
		if err := saveToken(s.path, tok); err != nil {
			log.Printf("Warning: Could not save refreshed token: %v", err)
		}
		s.last = tok
	}
	return tok, nil
}

// Authorize runs the browser flow and caches the resulting token.
func Authorize(ctx context.Context, scopes []string) error {
	cfg, err := LoadConfig(scopes)
	if err != nil {
		return err
	}
	tok, err := tokenFromWeb(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to get token from web: %w", err)
	}
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := saveToken(path, tok); err != nil {
		return err
	}
	fmt.Printf("Saved authentication token to: %s\n", path)
	return nil
}

func tokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	redirect, err := url.Parse(cfg.RedirectURL)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", LoopbackPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LoopbackPort, err)
	}
	defer listener.Close()

	state := uuid.NewString()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(callbackPath, callbackHandler(state, codeCh, errCh))
	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	defer server.Shutdown(context.Background())

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Open the following URL in your browser to authorize duet:\n%s\n", authURL)
	log.Println("Waiting for authorization code...")

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	select {
	case code := <-codeCh:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("authorization did not complete: %w", ctx.Err())
	}
}

// callbackHandler accepts one redirect carrying the expected state.
func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}
		if msg := q.Get("error"); msg != "" {
			http.Error(w, "Authorization denied", http.StatusForbidden)
			deliver(errCh, fmt.Errorf("authorization denied: %s", msg))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Authorization code not found", http.StatusBadRequest)
			deliver(errCh, errors.New("authorization code not found in redirect URL"))
			return
		}
		fmt.Fprint(w, "Authentication successful! You can close this window.")
		deliver(codeCh, code)
	})
}

func deliver[T any](ch chan<- T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", path, err)
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// CalendarService creates an authenticated Google Calendar service from the
// cached token.
func CalendarService(ctx context.Context) (*calendar.Service, error) {
	client, err := Client(ctx, Scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client for Calendar API: %w", err)
	}
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Google Calendar service: %w", err)
	}
	return srv, nil
}
