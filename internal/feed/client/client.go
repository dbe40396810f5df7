// Package client implements feed.Session over a websocket connection.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/feedops/tick-capture/internal/feed"
)

const defaultDialTimeout = 10 * time.Second

// HostPort is one feed endpoint; endpoints are tried in order.
type HostPort struct {
	Host string
	Port int
}

// TLSConfig carries optional client-certificate material. Paths are read at
// dial time so rotated files are picked up on reconnect.
type TLSConfig struct {
	CertFile   string
	KeyFile    string
	CAFile     string
	Passphrase string
}

// Config describes how to reach the feed.
type Config struct {
	Hosts       []HostPort
	AppName     string
	TLS         *TLSConfig
	DialTimeout time.Duration
}

type client struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	handler feed.EventHandler

	closeOnce sync.Once
	closed    chan struct{}
}

var _ feed.Session = (*client)(nil)

type wireSubscription struct {
	Topic       string   `json:"topic"`
	Fields      []string `json:"fields"`
	Correlation string   `json:"correlation"`
}

type wireRequest struct {
	Action        string             `json:"action"`
	Subscriptions []wireSubscription `json:"subscriptions,omitempty"`
	Correlations  []string           `json:"correlations,omitempty"`
}

type wireEvent struct {
	Type        string          `json:"type"`
	Correlation string          `json:"correlation,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Dial connects to the first reachable endpoint and starts the read loop.
// Events are delivered to handler from a dedicated goroutine until the
// session is closed or the connection drops.
func Dial(ctx context.Context, cfg *Config, handler feed.EventHandler, logger *slog.Logger) (feed.Session, error) {
	if cfg.AppName == "" {
		return nil, fmt.Errorf("%w: app name is required", feed.ErrBadConfig)
	}
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("%w: at least one host is required", feed.ErrBadConfig)
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	opts := &websocket.DialOptions{
		HTTPHeader: http.Header{"X-Feed-App": []string{cfg.AppName}},
	}

	scheme := "ws"
	if cfg.TLS != nil {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		}
		scheme = "wss"
	}

	var conn *websocket.Conn
	var lastErr error
	for _, h := range cfg.Hosts {
		url := fmt.Sprintf("%s://%s:%d/feed", scheme, h.Host, h.Port)

		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		c, _, err := websocket.Dial(dialCtx, url, opts)
		cancel()
		if err == nil {
			conn = c
			logger.Info("Feed session connected",
				slog.String("url", url),
				slog.String("app", cfg.AppName),
			)
			break
		}

		lastErr = err
		logger.Warn("Feed endpoint unreachable",
			slog.String("url", url),
			slog.Any("error", err),
		)
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: %v", feed.ErrConnect, lastErr)
	}

	c := &client{
		conn:    conn,
		logger:  logger,
		handler: handler,
		closed:  make(chan struct{}),
	}

	if handler != nil {
		handler(feed.Event{Type: feed.EventSession, Payload: json.RawMessage(`{"status":"connected"}`)})
	}

	go c.readLoop()

	return c, nil
}

// Subscribe issues one batched subscribe frame.
func (c *client) Subscribe(ctx context.Context, subs []feed.Subscription) error {
	if len(subs) == 0 {
		return nil
	}
	if c.isClosed() {
		return feed.ErrClosed
	}

	req := wireRequest{Action: "subscribe"}
	for _, s := range subs {
		req.Subscriptions = append(req.Subscriptions, wireSubscription{
			Topic:       s.Topic,
			Fields:      s.Fields,
			Correlation: s.Correlation.String(),
		})
	}

	if err := wsjson.Write(ctx, c.conn, &req); err != nil {
		return fmt.Errorf("feed subscribe failed: %w", err)
	}

	return nil
}

// Unsubscribe issues one batched unsubscribe frame.
func (c *client) Unsubscribe(ctx context.Context, corrs []feed.CorrelationID) error {
	if len(corrs) == 0 {
		return nil
	}
	if c.isClosed() {
		return feed.ErrClosed
	}

	req := wireRequest{Action: "unsubscribe"}
	for _, corr := range corrs {
		req.Correlations = append(req.Correlations, corr.String())
	}

	if err := wsjson.Write(ctx, c.conn, &req); err != nil {
		return fmt.Errorf("feed unsubscribe failed: %w", err)
	}

	return nil
}

func (c *client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close releases the websocket; safe to call more than once.
func (c *client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close(websocket.StatusNormalClosure, "session released")
	})
	return err
}

// readLoop delivers incoming frames to the handler until the connection
// drops or Close is called.
func (c *client) readLoop() {
	ctx := context.Background()

	for {
		var ev wireEvent
		if err := wsjson.Read(ctx, c.conn, &ev); err != nil {
			select {
			case <-c.closed:
				return
			default:
			}

			c.logger.Warn("Feed session read failed",
				slog.Any("error", err),
			)
			if c.handler != nil {
				c.handler(feed.Event{Type: feed.EventSession, Payload: json.RawMessage(`{"status":"disconnected"}`)})
			}
			return
		}

		c.dispatch(ev)
	}
}

func (c *client) dispatch(ev wireEvent) {
	if c.handler == nil {
		return
	}

	event := feed.Event{Type: feed.EventType(ev.Type), Payload: ev.Payload}

	switch event.Type {
	case feed.EventData, feed.EventStatus:
		corr, err := feed.ParseCorrelationID(ev.Correlation)
		if err != nil {
			c.logger.Warn("Dropping event with malformed correlation",
				slog.String("type", ev.Type),
				slog.String("correlation", ev.Correlation),
			)
			return
		}
		event.Correlation = corr
	case feed.EventSession:
		// no correlation on session events
	default:
		c.logger.Warn("Dropping event of unknown type",
			slog.String("type", ev.Type),
		)
		return
	}

	c.handler(event)
}

// buildTLSConfig loads the client certificate and CA chain. An encrypted
// private key is decrypted with the configured passphrase.
func buildTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	certPEM, err := os.ReadFile(cfg.CertFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading client certificate: %v", feed.ErrBadConfig, err)
	}

	keyPEM, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reading client key: %v", feed.ErrBadConfig, err)
	}

	keyPEM, err = decryptKey(keyPEM, cfg.Passphrase)
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: loading key pair: %v", feed.ErrBadConfig, err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA chain: %v", feed.ErrBadConfig, err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("%w: CA chain contains no certificates", feed.ErrBadConfig)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func decryptKey(keyPEM []byte, passphrase string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: client key is not PEM encoded", feed.ErrBadConfig)
	}

	if !x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // vendor-issued keys still use legacy PEM encryption
		return keyPEM, nil
	}

	if passphrase == "" {
		return nil, fmt.Errorf("%w: client key is encrypted but no passphrase configured", feed.ErrBadConfig)
	}

	der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
	if err != nil {
		return nil, fmt.Errorf("%w: decrypting client key: %v", feed.ErrBadConfig, err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}
