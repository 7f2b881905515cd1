// Package smartconnect is a minimal Angel One SmartAPI REST client: password +
// TOTP login and historical candle download.
//
// Usage example:
//
//	sc := smartconnect.New(smartconnect.Config{APIKey: "your_api_key"})
//	if _, err := sc.GenerateSession(ctx, "CLIENTID", "PIN", "123456"); err != nil { log.Fatal(err) }
//	candles, err := sc.GetCandleData(ctx, smartconnect.CandleRequest{
//	    Exchange: "NSE", SymbolToken: "3045", Interval: "FIVE_MINUTE", From: from, To: to,
//	})
package smartconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultRoot = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"api.login":       "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":      "/rest/secure/angelbroking/user/v1/logout",
	"api.candle.data": "/rest/secure/angelbroking/historical/v1/getCandleData",
}

// ErrTokenExpired is returned when the API rejects the session token.
var ErrTokenExpired = errors.New("smartconnect: session token expired")

// Config configures the client.
type Config struct {
	APIKey         string
	RootURL        string        // default: https://apiconnect.angelone.in
	Timeout        time.Duration // default: 7s
	Debug          bool
	ClientPublicIP string // default 106.193.147.98
	ClientLocalIP  string // default first non-loopback IPv4, else 127.0.0.1
	ClientMAC      string // default first interface MAC
}

// SmartConnect is safe for concurrent use.
type SmartConnect struct {
	apiKey  string
	rootURL string
	debug   bool

	httpClient *http.Client

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	mu          sync.RWMutex
	accessToken string
}

// Session holds the tokens returned by a successful login.
type Session struct {
	AccessToken  string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// New creates a client.
func New(cfg Config) *SmartConnect {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = "106.193.147.98"
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = localIP()
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = firstMAC()
	}

	return &SmartConnect{
		apiKey:         cfg.APIKey,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

func firstMAC() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}

// ---- Helpers ----

func (sc *SmartConnect) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", sc.clientLocalIP)
	h.Set("X-ClientPublicIP", sc.clientPublicIP)
	h.Set("X-MACAddress", sc.clientMAC)
	h.Set("X-PrivateKey", sc.apiKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	if t := sc.AccessToken(); t != "" {
		h.Set("Authorization", "Bearer "+t)
	}
	return h
}

// envelope is the common SmartAPI response shape.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (sc *SmartConnect) post(ctx context.Context, route string, params any) (*envelope, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("unknown route: %s", route)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sc.rootURL+uri, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = sc.requestHeaders()

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", route, err)
	}
	if sc.debug {
		log.Printf("[smartconnect] %s code=%d body=%s", route, resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%s: couldn't parse JSON response (status %d): %w", route, resp.StatusCode, err)
	}
	if env.ErrorType == "TokenException" || resp.StatusCode == http.StatusForbidden {
		return &env, fmt.Errorf("%w: %s", ErrTokenExpired, env.Message)
	}
	if env.ErrorType != "" {
		return &env, fmt.Errorf("%s: %s: %s", route, env.ErrorType, env.Message)
	}
	if !env.Status {
		return &env, fmt.Errorf("%s: %s (%s)", route, env.Message, env.ErrorCode)
	}
	return &env, nil
}

// AccessToken returns the current JWT.
func (sc *SmartConnect) AccessToken() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.accessToken
}

// ---- API Methods ----

// GenerateSession logs in with client code, PIN and the current TOTP code and
// stores the returned tokens on the client.
func (sc *SmartConnect) GenerateSession(ctx context.Context, clientCode, password, totp string) (Session, error) {
	env, err := sc.post(ctx, "api.login", map[string]string{
		"clientcode": clientCode, "password": password, "totp": totp,
	})
	if err != nil {
		return Session{}, fmt.Errorf("login failed: %w", err)
	}

	var s Session
	if err := json.Unmarshal(env.Data, &s); err != nil || s.AccessToken == "" {
		return Session{}, errors.New("unexpected login response format")
	}

	sc.mu.Lock()
	sc.accessToken = s.AccessToken
	sc.mu.Unlock()

	log.Printf("[smartconnect] session created for %s", clientCode)
	return s, nil
}

// TerminateSession logs out.
func (sc *SmartConnect) TerminateSession(ctx context.Context, clientCode string) error {
	_, err := sc.post(ctx, "api.logout", map[string]string{"clientcode": clientCode})
	return err
}

// CandleRequest selects a historical candle range.
type CandleRequest struct {
	Exchange    string
	SymbolToken string
	Interval    string // ONE_MINUTE, FIVE_MINUTE, ... ONE_DAY
	From, To    time.Time
}

// Candle is one historical OHLCV row.
type Candle struct {
	Time                   time.Time
	Open, High, Low, Close float64
	Volume                 float64
}

// candleTimeFormat is the from/to format getCandleData expects (exchange local time).
const candleTimeFormat = "2006-01-02 15:04"

// GetCandleData downloads candles for the requested range, oldest first.
func (sc *SmartConnect) GetCandleData(ctx context.Context, r CandleRequest) ([]Candle, error) {
	env, err := sc.post(ctx, "api.candle.data", map[string]string{
		"exchange":    r.Exchange,
		"symboltoken": r.SymbolToken,
		"interval":    r.Interval,
		"fromdate":    r.From.Format(candleTimeFormat),
		"todate":      r.To.Format(candleTimeFormat),
	})
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &rows); err != nil {
			return nil, fmt.Errorf("candle data: %w", err)
		}
	}

	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 5 {
			return nil, fmt.Errorf("candle data: row %d has %d fields", i, len(row))
		}
		var ts string
		if err := json.Unmarshal(row[0], &ts); err != nil {
			return nil, fmt.Errorf("candle data: row %d time: %w", i, err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("candle data: row %d time: %w", i, err)
		}
		c := Candle{Time: t.UTC()}
		vals := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
		for j, dst := range vals {
			if j+1 >= len(row) {
				break
			}
			if err := json.Unmarshal(row[j+1], dst); err != nil {
				return nil, fmt.Errorf("candle data: row %d field %d: %w", i, j+1, err)
			}
		}
		out = append(out, c)
	}
	return out, nil
}
