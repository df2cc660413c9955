package signature_test

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stakechain/stakechain/foundation/blockchain/signature"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// =============================================================================

func Test_SignRecover(t *testing.T) {
	value := struct {
		Name string `json:"name"`
	}{
		Name: "stakechain",
	}

	t.Log("Given the need to sign data and recover the signing address.")
	{
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a private key: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to generate a private key.", success)

		v, r, s, err := signature.Sign(value, privateKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign the data: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to sign the data.", success)

		if err := signature.VerifySignature(v, r, s); err != nil {
			t.Fatalf("\t%s\tShould have a valid signature: %v", failed, err)
		}
		t.Logf("\t%s\tShould have a valid signature.", success)

		addr, err := signature.FromAddress(value, v, r, s)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to recover an address: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to recover an address.", success)

		expAddr, err := signature.PublicKeyToAddress(privateKey.PublicKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive the address: %v", failed, err)
		}

		if addr != expAddr {
			t.Errorf("\t%s\tShould recover the signing address.", failed)
			t.Logf("\t%s\tgot: %s", failed, addr)
			t.Logf("\t%s\texp: %s", failed, expAddr)
		} else {
			t.Logf("\t%s\tShould recover the signing address.", success)
		}
	}
}

func Test_RecoverWrongData(t *testing.T) {
	value := struct {
		Name string `json:"name"`
	}{
		Name: "stakechain",
	}

	other := struct {
		Name string `json:"name"`
	}{
		Name: "tampered",
	}

	t.Log("Given the need to detect a signature over different data.")
	{
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a private key: %v", failed, err)
		}

		v, r, s, err := signature.Sign(value, privateKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign the data: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to sign the data.", success)

		expAddr, err := signature.PublicKeyToAddress(privateKey.PublicKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive the address: %v", failed, err)
		}

		addr, err := signature.FromAddress(other, v, r, s)
		if err == nil && addr == expAddr {
			t.Errorf("\t%s\tShould not recover the signing address for different data.", failed)
		} else {
			t.Logf("\t%s\tShould not recover the signing address for different data.", success)
		}
	}
}

func Test_AddressEncoding(t *testing.T) {
	t.Log("Given the need to produce chain formatted addresses.")
	{
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a private key: %v", failed, err)
		}

		addr, err := signature.PublicKeyToAddress(privateKey.PublicKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive the address: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to derive the address.", success)

		if !strings.HasPrefix(addr, signature.AddressHRP+"1") {
			t.Errorf("\t%s\tShould carry the %q human readable part: %s", failed, signature.AddressHRP, addr)
		} else {
			t.Logf("\t%s\tShould carry the %q human readable part.", success, signature.AddressHRP)
		}

		if err := signature.DecodeAddress(addr); err != nil {
			t.Errorf("\t%s\tShould round trip through decoding: %v", failed, err)
		} else {
			t.Logf("\t%s\tShould round trip through decoding.", success)
		}

		if err := signature.DecodeAddress("cosmos1qqqsyqcyq5rqwzqfpg9scrgwpugpzysnzs23v9cc"); err == nil {
			t.Errorf("\t%s\tShould reject an address with a foreign prefix.", failed)
		} else {
			t.Logf("\t%s\tShould reject an address with a foreign prefix.", success)
		}
	}
}

func Test_HashStability(t *testing.T) {
	t.Log("Given the need for a stable content hash.")
	{
		value := struct {
			A int    `json:"a"`
			B string `json:"b"`
		}{
			A: 42,
			B: "nonce",
		}

		h1 := signature.Hash(value)
		h2 := signature.Hash(value)

		if h1 != h2 {
			t.Errorf("\t%s\tShould produce the same hash for the same value.", failed)
		} else {
			t.Logf("\t%s\tShould produce the same hash for the same value.", success)
		}

		if !strings.HasPrefix(h1, "0x") || len(h1) != 66 {
			t.Errorf("\t%s\tShould produce a 0x prefixed 32 byte hash: %s", failed, h1)
		} else {
			t.Logf("\t%s\tShould produce a 0x prefixed 32 byte hash.", success)
		}

		value.A = 43
		if signature.Hash(value) == h1 {
			t.Errorf("\t%s\tShould produce a different hash for a different value.", failed)
		} else {
			t.Logf("\t%s\tShould produce a different hash for a different value.", success)
		}
	}
}
