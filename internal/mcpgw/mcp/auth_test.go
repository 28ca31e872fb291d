package mcp

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func signedRequest(body []byte, agentID, ts, nonce, sig string) *http.Request {
	req, _ := http.NewRequest("POST", "http://example.invalid/mcp", bytes.NewReader(body))
	req.Header.Set(headerAgentID, agentID)
	req.Header.Set(headerTS, ts)
	req.Header.Set(headerNonce, nonce)
	req.Header.Set(headerSignature, sig)
	return req
}

func TestHMAC_SignAndVerify_Vector(t *testing.T) {
	secret := []byte("topsecret")
	ts := "1700000000000"
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"list_tools"}`)

	got := signHMAC(secret, canonicalString(ts, "post", "/mcp", "agent_1", "n-1", body))
	want := "7f69c7c134cbdd7d85b51d49502e92fe180fa8fd91a74b690792c96cdcb0d6e8"
	if got != want {
		t.Fatalf("signature mismatch: got=%s want=%s", got, want)
	}

	vr := verifyHMAC(signedRequest(body, "agent_1", ts, "n-1", want), body, secret, time.UnixMilli(1700000000000))
	if vr.HTTPStatus != 0 {
		t.Fatalf("expected ok, got status=%d msg=%s", vr.HTTPStatus, vr.Message)
	}
	if vr.SessionKey != "agent_1" || vr.Nonce != "n-1" {
		t.Fatalf("result=%+v", vr)
	}
}

func TestHMAC_Verify_Rejects(t *testing.T) {
	secret := []byte("topsecret")
	ts := "1700000000000"
	body := []byte(`{}`)
	sig := signHMAC(secret, canonicalString(ts, "POST", "/mcp", "agent_1", "n-1", body))
	at := time.UnixMilli(1700000000000)

	cases := []struct {
		name string
		req  *http.Request
		body []byte
		now  time.Time
		msg  string
	}{
		{"expired", signedRequest(body, "agent_1", ts, "n-1", sig), body, at.Add(6 * time.Minute), "x-ts outside window"},
		{"no nonce", signedRequest(body, "agent_1", ts, "", sig), body, at, "missing x-nonce"},
		{"no agent", signedRequest(body, "", ts, "n-1", sig), body, at, "missing x-agent-id"},
		{"other agent", signedRequest(body, "agent_2", ts, "n-1", sig), body, at, "bad signature"},
		{"tampered body", signedRequest(body, "agent_1", ts, "n-1", sig), []byte(`{"x":1}`), at, "bad signature"},
		{"bad ts", signedRequest(body, "agent_1", "soon", "n-1", sig), body, at, "bad x-ts"},
	}
	for _, c := range cases {
		vr := verifyHMAC(c.req, c.body, secret, c.now)
		if vr.HTTPStatus != http.StatusUnauthorized || vr.Message != c.msg {
			t.Fatalf("%s: status=%d msg=%q want %q", c.name, vr.HTTPStatus, vr.Message, c.msg)
		}
	}
}

func TestRequireLoopback(t *testing.T) {
	req := httptest.NewRequest("POST", "/mcp", nil)
	for addr, ok := range map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:5000":     true,
		"192.0.2.1:1234": false,
		"10.0.0.8":       false,
	} {
		req.RemoteAddr = addr
		if err := requireLoopback(req); (err == nil) != ok {
			t.Fatalf("%s: err=%v", addr, err)
		}
	}
}
