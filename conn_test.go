package gmail

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const mockMessage = "From: Terry Gray <gray@cac.washington.edu>\r\n" +
	"Subject: IMAP4rev1 WG mtg summary and minutes\r\n" +
	"\r\n" +
	"Minutes attached.\r\n"

// mockIMAPServer is a minimal Gmail-flavoured IMAP server for testing
type mockIMAPServer struct {
	listener     net.Listener
	address      string
	authAttempts atomic.Int32
	connections  atomic.Int32
	validUser    string
	validPass    string
	validToken   string
	greeting     string
	failAuth     atomic.Bool
	dropOnAuth   atomic.Bool
	fetchDelay   atomic.Int64
}

func newMockIMAPServer(validUser, validPass, validToken string) (*mockIMAPServer, error) {
	cert, err := generateSelfSignedCertificate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate: %v", err)
	}

	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS listener: %v", err)
	}

	server := &mockIMAPServer{
		listener:   listener,
		address:    listener.Addr().String(),
		validUser:  validUser,
		validPass:  validPass,
		validToken: validToken,
		greeting:   "* OK Gimap ready for requests",
	}

	go server.serve()
	return server, nil
}

func (s *mockIMAPServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.connections.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *mockIMAPServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	writer.WriteString(s.greeting + "\r\n")
	writer.Flush()
	if !strings.HasPrefix(s.greeting, "* OK") {
		return
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) < 2 {
			continue
		}
		tag := parts[0]

		switch strings.ToUpper(parts[1]) {
		case "LOGIN":
			s.authAttempts.Add(1)
			if len(parts) < 4 {
				writer.WriteString(tag + " BAD Invalid LOGIN command\r\n")
				break
			}
			username := strings.Trim(parts[2], `"`)
			password := strings.Trim(parts[3], `"`)
			if !s.failAuth.Load() && username == s.validUser && password == s.validPass {
				writer.WriteString(tag + " OK " + username + " authenticated (Success)\r\n")
			} else {
				writer.WriteString(tag + " NO [AUTHENTICATIONFAILED] Invalid credentials (Failure)\r\n")
			}

		case "AUTHENTICATE":
			s.authAttempts.Add(1)
			if s.dropOnAuth.Load() {
				return
			}
			if len(parts) < 4 || !s.checkInitialResponse(strings.ToUpper(parts[2]), parts[3]) || s.failAuth.Load() {
				// Gmail sends its error as a continuation and waits for an empty line
				writer.WriteString("+ eyJzdGF0dXMiOiI0MDAifQ==\r\n")
				writer.Flush()
				if _, err := reader.ReadString('\n'); err != nil {
					return
				}
				writer.WriteString(tag + " NO [AUTHENTICATIONFAILED] Invalid credentials (Failure)\r\n")
				break
			}
			writer.WriteString("* CAPABILITY IMAP4rev1 X-GM-EXT-1\r\n")
			writer.WriteString(tag + " OK " + s.validUser + " authenticated (Success)\r\n")

		case "EXAMINE", "SELECT":
			writer.WriteString("* FLAGS (\\Answered \\Flagged \\Draft \\Deleted \\Seen)\r\n")
			writer.WriteString("* 1 EXISTS\r\n")
			writer.WriteString(tag + " OK [READ-ONLY] " + parts[2] + " selected. (Success)\r\n")

		case "UID":
			time.Sleep(time.Duration(s.fetchDelay.Load()))
			writer.WriteString(fmt.Sprintf("* 1 FETCH (X-GM-THRID 1484169545317055256 X-GM-MSGID 1484169545317055256 UID 7 "+
				"FLAGS (\\Seen) BODY[] {%d}\r\n%s)\r\n", len(mockMessage), mockMessage))
			writer.WriteString(tag + " OK Success\r\n")

		case "LOGOUT":
			writer.WriteString("* BYE LOGOUT Requested\r\n")
			writer.WriteString(tag + " OK 73 good day (Success)\r\n")
			writer.Flush()
			return

		default:
			writer.WriteString(tag + " BAD Unknown command\r\n")
		}

		writer.Flush()
	}
}

func (s *mockIMAPServer) checkInitialResponse(mechanism, arg string) bool {
	raw, err := base64.StdEncoding.DecodeString(arg)
	if err != nil {
		return false
	}
	switch mechanism {
	case "XOAUTH":
		return strings.HasPrefix(string(raw), "GET https://mail.google.com/mail/b/"+s.validUser+"/imap/ ") &&
			strings.Contains(string(raw), `oauth_token="`+s.validToken+`"`)
	case "XOAUTH2":
		return string(raw) == "user="+s.validUser+"\x01auth=Bearer "+s.validToken+"\x01\x01"
	}
	return false
}

func (s *mockIMAPServer) Close() {
	s.listener.Close()
}

func (s *mockIMAPServer) Host() string {
	host, _, _ := net.SplitHostPort(s.address)
	return host
}

func (s *mockIMAPServer) Port() int {
	_, portStr, _ := net.SplitHostPort(s.address)
	port, _ := strconv.Atoi(portStr)
	return port
}

// generateSelfSignedCertificate generates a self-signed certificate for testing
func generateSelfSignedCertificate() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Co"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	return tls.X509KeyPair(certPEM, keyPEM)
}

// useTestSettings points the package at a self-signed local server.
func useTestSettings(t *testing.T) {
	t.Helper()
	originalVerbose := Verbose
	originalRetryCount := RetryCount
	originalTLSSkipVerify := TLSSkipVerify
	originalDialTimeout := DialTimeout
	originalCommandTimeout := CommandTimeout

	Verbose = false
	RetryCount = 3
	TLSSkipVerify = true
	DialTimeout = time.Second

	t.Cleanup(func() {
		Verbose = originalVerbose
		RetryCount = originalRetryCount
		TLSSkipVerify = originalTLSSkipVerify
		DialTimeout = originalDialTimeout
		CommandTimeout = originalCommandTimeout
	})
}

func startMockServer(t *testing.T) *mockIMAPServer {
	t.Helper()
	server, err := newMockIMAPServer("alice@gmail.com", "secret", "ya29.token")
	if err != nil {
		t.Fatalf("Failed to create mock server: %v", err)
	}
	t.Cleanup(server.Close)
	return server
}

// loginWithin runs Login and fails the test if it does not return in time.
func loginWithin(t *testing.T, c *Client, d time.Duration) (bool, error) {
	t.Helper()
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := c.Login()
		done <- result{ok, err}
	}()
	select {
	case r := <-done:
		return r.ok, r.err
	case <-time.After(d):
		t.Fatal("Login did not return")
		return false, nil
	}
}

func TestStrategiesAgainstServer(t *testing.T) {
	useTestSettings(t)
	server := startMockServer(t)

	creds := TokenCredentials{ConsumerKey: "anonymous", ConsumerSecret: "anonymous", Token: "ya29.token", TokenSecret: "s"}
	strategies := map[string]func(password, token string) Strategy{
		"plain": func(password, _ string) Strategy { return NewPlainStrategy("alice@gmail.com", password) },
		"xoauth": func(_, token string) Strategy {
			c := creds
			c.Token = token
			return NewXOAuthStrategy("alice@gmail.com", c)
		},
		"xoauth2": func(_, token string) Strategy { return NewXOAuth2Strategy("alice@gmail.com", token) },
	}

	for name, newStrategy := range strategies {
		t.Run(name+"/accepted", func(t *testing.T) {
			server.authAttempts.Store(0)
			c := NewClientWithTransport(newStrategy("secret", "ya29.token"), NewConn(server.Host(), server.Port()))
			if err := c.Connect(); err != nil {
				t.Fatalf("Connect() error: %v", err)
			}
			defer c.Close()

			ok, err := loginWithin(t, c, 2*time.Second)
			if !ok || err != nil {
				t.Fatalf("Login() = %v, %v", ok, err)
			}
			if attempts := server.authAttempts.Load(); attempts != 1 {
				t.Errorf("Expected 1 auth attempt, got %d", attempts)
			}
		})

		t.Run(name+"/rejected", func(t *testing.T) {
			server.authAttempts.Store(0)
			c := NewClientWithTransport(newStrategy("wrong", "expired"), NewConn(server.Host(), server.Port()))
			if err := c.Connect(); err != nil {
				t.Fatalf("Connect() error: %v", err)
			}
			defer c.Close()

			ok, err := loginWithin(t, c, 2*time.Second)
			if ok {
				t.Error("Login() = true with bad credentials")
			}
			var aerr *AuthorizationError
			if !errors.As(err, &aerr) || aerr.Username != "alice@gmail.com" {
				t.Fatalf("error = %v, want *AuthorizationError for alice@gmail.com", err)
			}
			if !strings.Contains(aerr.Reason, "AUTHENTICATIONFAILED") {
				t.Errorf("Reason = %q", aerr.Reason)
			}
			// Authentication is never retried, whatever RetryCount says
			if attempts := server.authAttempts.Load(); attempts != 1 {
				t.Errorf("Expected 1 auth attempt (no retry), got %d", attempts)
			}
		})
	}
}

func TestLoginConnectionDropped(t *testing.T) {
	useTestSettings(t)
	server := startMockServer(t)
	server.dropOnAuth.Store(true)

	c := NewClientWithTransport(NewXOAuth2Strategy("alice@gmail.com", "ya29.token"), NewConn(server.Host(), server.Port()))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()

	ok, err := loginWithin(t, c, 2*time.Second)
	if ok {
		t.Error("Login() = true without a response")
	}
	var aerr *AuthorizationError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v, want *AuthorizationError", err)
	}
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("error = %v, want ErrNoResponse", err)
	}
}

func TestSessionAgainstServer(t *testing.T) {
	useTestSettings(t)
	server := startMockServer(t)

	c := NewClientWithTransport(NewPlainStrategy("alice@gmail.com", "secret"), NewConn(server.Host(), server.Port()))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if _, err := c.Login(); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if err := c.ExamineFolder("[Gmail]/All Mail"); err != nil {
		t.Fatalf("ExamineFolder() error: %v", err)
	}
	if conn := c.Transport().(*Conn); conn.Folder != "[Gmail]/All Mail" {
		t.Errorf("Conn.Folder = %q", conn.Folder)
	}

	records, err := c.UIDFetch("7", AttrUID, AttrFlags, AttrGmMsgID, AttrGmThreadID, "BODY.PEEK[]")
	if err != nil {
		t.Fatalf("UIDFetch() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	r := records[0]
	if id, _ := r.GmMsgID(); id != "1484169545317055256" {
		t.Errorf("X-GM-MSGID = %q", id)
	}
	if uid, _ := r.UID(); uid != "7" {
		t.Errorf("UID = %q", uid)
	}
	if body, _ := r.Text(AttrBodySection); body != mockMessage {
		t.Errorf("BODY[] = %q, want %q", body, mockMessage)
	}
	msg, err := r.Message()
	if err != nil {
		t.Fatalf("Message() error: %v", err)
	}
	if s := msg.GetHeader("Subject"); s != "IMAP4rev1 WG mtg summary and minutes" {
		t.Errorf("Subject = %q", s)
	}

	if err := c.Logout(); err != nil {
		t.Errorf("Logout() error: %v", err)
	}
	if c.Transport().(*Conn).Connected {
		t.Error("still connected after Logout")
	}
}

func TestCommandTimeoutClosesConnection(t *testing.T) {
	useTestSettings(t)
	server := startMockServer(t)

	c := NewClientWithTransport(NewPlainStrategy("alice@gmail.com", "secret"), NewConn(server.Host(), server.Port()))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()
	if _, err := c.Login(); err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	CommandTimeout = 50 * time.Millisecond
	server.fetchDelay.Store(int64(150 * time.Millisecond))

	_, err := c.UIDFetch("7", AttrUID)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("UIDFetch() error = %v, want ErrNoResponse", err)
	}
	if !strings.Contains(err.Error(), "UID FETCH") {
		t.Errorf("error %q does not name the command", err)
	}
	conn := c.Transport().(*Conn)
	if conn.Connected {
		t.Error("Connected = true after a timed out command")
	}
	if c.Authenticated() {
		t.Error("Authenticated() = true after a timed out command")
	}

	// the late FETCH reply must not be read as the answer to this one
	time.Sleep(150 * time.Millisecond)
	if _, err := conn.Send("NOOP"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after timeout error = %v, want ErrNotConnected", err)
	}
	if _, err := c.UIDFetch("7", AttrUID); !errors.Is(err, ErrNotConnected) {
		t.Errorf("UIDFetch() after timeout error = %v, want ErrNotConnected", err)
	}
	if err := c.Logout(); err != nil {
		t.Errorf("Logout() after timeout error: %v", err)
	}
}

func TestConnectRefusedGreeting(t *testing.T) {
	useTestSettings(t)
	server := startMockServer(t)
	server.greeting = "* BYE too many simultaneous connections"

	conn := NewConn(server.Host(), server.Port())
	err := conn.Connect()
	if err == nil || !strings.Contains(err.Error(), "BYE") {
		t.Fatalf("Connect() error = %v, want refused greeting", err)
	}
	if conn.Connected {
		t.Error("Connected = true after refused greeting")
	}
	if n := server.connections.Load(); n != 1 {
		t.Errorf("dialed %d times, want 1", n)
	}
}

func TestSendBeforeConnect(t *testing.T) {
	if _, err := NewConn("127.0.0.1", 1).Send("NOOP"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

// TestConnectionRetry verifies that connection failures still retry
func TestConnectionRetry(t *testing.T) {
	useTestSettings(t)
	RetryCount = 2

	start := time.Now()
	err := NewConn("127.0.0.1", 59999).Connect()
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Expected connection error, got nil")
	}

	// Each retry has a delay
	if elapsed < 100*time.Millisecond {
		t.Error("Connection failed too quickly, retries may not be working")
	}

	if elapsed > 30*time.Second {
		t.Error("Connection took too long, possible infinite loop")
	}
}
