package mailer

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emersion/go-msgauth/dkim"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	return key
}

func TestDKIMSigner_SignatureVerifies(t *testing.T) {
	key := newTestKey(t)
	signer := NewDKIMSigner("darleyabbeyfc.example", "site", key)

	raw, err := BuildMessage(testEnvelope(), time.Now())
	if err != nil {
		t.Fatalf("BuildMessage failed: %v", err)
	}
	signed, err := signer.Sign(raw)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if !bytes.HasPrefix(signed, []byte("DKIM-Signature:")) {
		t.Fatalf("signed message should start with DKIM-Signature header")
	}

	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey failed: %v", err)
	}
	record := "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(pub)

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(signed), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			if domain != "site._domainkey.darleyabbeyfc.example" {
				t.Errorf("unexpected TXT lookup for %q", domain)
			}
			return []string{record}, nil
		},
	})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(verifications) != 1 {
		t.Fatalf("expected 1 verification, got %d", len(verifications))
	}
	if verifications[0].Err != nil {
		t.Errorf("signature did not verify: %v", verifications[0].Err)
	}
	if verifications[0].Domain != "darleyabbeyfc.example" {
		t.Errorf("Domain: got %q", verifications[0].Domain)
	}
}

func TestLoadDKIMSigner_PEMFormats(t *testing.T) {
	key := newTestKey(t)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey failed: %v", err)
	}

	tests := []struct {
		name    string
		block   *pem.Block
		wantErr bool
	}{
		{"pkcs1", &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}, false},
		{"pkcs8", &pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}, false},
		{"certificate", &pem.Block{Type: "CERTIFICATE", Bytes: []byte("nope")}, true},
		{"corrupt pkcs1", &pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte("nope")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dkim.pem")
			if err := os.WriteFile(path, pem.EncodeToMemory(tt.block), 0o600); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			_, err := LoadDKIMSigner("darleyabbeyfc.example", "site", path)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadDKIMSigner error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDKIMSigner_NotPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dkim.pem")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadDKIMSigner("d", "s", path); err == nil {
		t.Fatal("expected error for non-PEM input")
	}
	if _, err := LoadDKIMSigner("d", "s", filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
