package crypto_test

import (
	"path/filepath"
	"testing"

	"github.com/relab/safetyrules/crypto"
)

var schemes = []string{crypto.NameECDSA, crypto.NameEDDSA, crypto.NameBLS12}

func TestSignAndVerify(t *testing.T) {
	testCases := []struct {
		name    string
		message string
	}{
		{name: "Short", message: "test message"},
		{name: "Empty", message: ""},
		{name: "BinaryData", message: string([]byte{0x00, 0x01, 0x02, 0xFF, 0xFE, 0xFD})},
	}

	for _, scheme := range schemes {
		for _, tc := range testCases {
			t.Run(scheme+"/"+tc.name, func(t *testing.T) {
				key, err := crypto.GenerateKey(scheme)
				if err != nil {
					t.Fatalf("GenerateKey failed: %v", err)
				}
				signer, err := crypto.NewSigner(key)
				if err != nil {
					t.Fatalf("NewSigner failed: %v", err)
				}
				sig, err := signer.Sign([]byte(tc.message))
				if err != nil {
					t.Fatalf("Sign failed: %v", err)
				}
				if err := crypto.Verify(signer.Public(), []byte(tc.message), sig); err != nil {
					t.Fatalf("Verify failed: %v", err)
				}
				if err := crypto.Verify(signer.Public(), []byte(tc.message+"x"), sig); err == nil {
					t.Fatal("Verify should have failed with tampered message")
				}
			})
		}
	}
}

func TestVerifyWrongKey(t *testing.T) {
	for _, scheme := range schemes {
		t.Run(scheme, func(t *testing.T) {
			key1, _ := crypto.GenerateKey(scheme)
			key2, _ := crypto.GenerateKey(scheme)
			signer, err := crypto.NewSigner(key1)
			if err != nil {
				t.Fatal(err)
			}
			sig, err := signer.Sign([]byte("message"))
			if err != nil {
				t.Fatal(err)
			}
			if err := crypto.Verify(key2.Public(), []byte("message"), sig); err == nil {
				t.Fatal("Verify should have failed with the wrong public key")
			}
		})
	}
}

func TestKeyFiles(t *testing.T) {
	for _, scheme := range schemes {
		t.Run(scheme, func(t *testing.T) {
			dir := t.TempDir()
			key, err := crypto.GenerateKey(scheme)
			if err != nil {
				t.Fatal(err)
			}
			privPath := filepath.Join(dir, "key.pem")
			pubPath := filepath.Join(dir, "key.pub.pem")
			if err := crypto.WritePrivateKeyFile(key, privPath); err != nil {
				t.Fatalf("WritePrivateKeyFile failed: %v", err)
			}
			if err := crypto.WritePublicKeyFile(key.Public(), pubPath); err != nil {
				t.Fatalf("WritePublicKeyFile failed: %v", err)
			}
			gotKey, err := crypto.ReadPrivateKeyFile(privPath)
			if err != nil {
				t.Fatalf("ReadPrivateKeyFile failed: %v", err)
			}
			gotPub, err := crypto.ReadPublicKeyFile(pubPath)
			if err != nil {
				t.Fatalf("ReadPublicKeyFile failed: %v", err)
			}
			if !crypto.PublicKeyEqual(gotKey.Public(), key.Public()) {
				t.Error("private key read from file does not match")
			}
			if !crypto.PublicKeyEqual(gotPub, key.Public()) {
				t.Error("public key read from file does not match")
			}
			gotScheme, err := crypto.Scheme(gotPub)
			if err != nil || gotScheme != scheme {
				t.Errorf("Scheme() = %s, %v; want %s", gotScheme, err, scheme)
			}
		})
	}
}

func TestUnknownScheme(t *testing.T) {
	if _, err := crypto.GenerateKey("rsa"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}
