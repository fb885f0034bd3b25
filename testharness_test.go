package starling

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// testClient is a minimal synchronous SMTP client used to drive integration
// tests against a live Server over a real TCP loopback connection.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

func newTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	return &testClient{conn: conn, reader: bufio.NewReader(conn), t: t}
}

func (c *testClient) Close() { c.conn.Close() }

func (c *testClient) Send(format string, args ...any) {
	c.t.Helper()
	cmd := fmt.Sprintf(format, args...)
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		c.t.Fatalf("send %q: %v", cmd, err)
	}
}

func (c *testClient) readLine() string {
	c.t.Helper()
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) ExpectCode(want int) string {
	c.t.Helper()
	line := c.readLine()
	var got int
	fmt.Sscanf(line, "%d", &got)
	if got != want {
		c.t.Errorf("expected code %d, got response %q", want, line)
	}
	return line
}

func (c *testClient) ExpectMultilineCode(want int) []string {
	c.t.Helper()
	var lines []string
	for {
		line := c.readLine()
		lines = append(lines, line)
		if len(line) >= 4 && line[3] == ' ' {
			break
		}
	}
	var got int
	fmt.Sscanf(lines[len(lines)-1], "%d", &got)
	if got != want {
		c.t.Errorf("expected code %d, got lines %v", want, lines)
	}
	return lines
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer wraps a running *Server plus the background goroutine serving it.
type testServer struct {
	srv  *Server
	addr string
}

func (ts *testServer) Dial(t *testing.T) *testClient {
	return newTestClient(t, ts.addr)
}

func (ts *testServer) Close() {
	ts.srv.Close()
}

// startTestServer builds and starts a Server on a loopback port, applying
// configure to the builder before Build.
func startTestServer(t *testing.T, configure func(*ServerBuilder)) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	b := New("test.example.com").Logger(discardLogger())
	if configure != nil {
		configure(b)
	}
	srv, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	go srv.Serve(ln)

	for range 50 {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return &testServer{srv: srv, addr: addr}
}

// fakeMessageHandler records every call it receives from the core.
type fakeMessageHandler struct {
	mu         sync.Mutex
	from       Path
	recipients []Path
	body       []byte
	done       bool
	aborted    bool
	failFrom   error
	failRcpt   error
	failData   error
	failDone   error
}

func (h *fakeMessageHandler) From(p Path) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.from = p
	return h.failFrom
}

func (h *fakeMessageHandler) Recipient(p Path) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failRcpt != nil {
		return h.failRcpt
	}
	h.recipients = append(h.recipients, p)
	return nil
}

func (h *fakeMessageHandler) Data(r io.Reader) error {
	if h.failData != nil {
		io.Copy(io.Discard, r)
		return h.failData
	}
	b, err := io.ReadAll(r)
	h.mu.Lock()
	h.body = b
	h.mu.Unlock()
	return err
}

func (h *fakeMessageHandler) Done() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.done = true
	return h.failDone
}

func (h *fakeMessageHandler) Aborted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aborted = true
}

// fakeMessageHandlerFactory hands out a single shared handler so tests can
// inspect what the core called on it.
type fakeMessageHandlerFactory struct {
	handler *fakeMessageHandler
}

func newFakeMessageHandlerFactory() *fakeMessageHandlerFactory {
	return &fakeMessageHandlerFactory{handler: &fakeMessageHandler{}}
}

func (f *fakeMessageHandlerFactory) Create(sess *Session) MessageHandler { return f.handler }

// fakeAuthHandler accepts a single fixed username/password pair.
type fakeAuthHandler struct {
	wantUser string
	wantPass string
}

func (h *fakeAuthHandler) Auth(mechanism string, creds ClientCredentials) (AuthOutcome, string, string) {
	if creds.AuthenticationID == h.wantUser && creds.Password == h.wantPass {
		return AuthSuccess, "", creds.AuthenticationID
	}
	return AuthFailure, "", ""
}

type fakeAuthFactory struct {
	mechanisms []string
	wantUser   string
	wantPass   string
}

func (f *fakeAuthFactory) Mechanisms() []string { return f.mechanisms }
func (f *fakeAuthFactory) Create() AuthHandler {
	return &fakeAuthHandler{wantUser: f.wantUser, wantPass: f.wantPass}
}

// generateTestCert creates a self-signed certificate for STARTTLS tests.
func generateTestCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "test.example.com"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"test.example.com", "localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("x509 key pair: %v", err)
	}
	return cert
}
